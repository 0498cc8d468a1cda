// Package logservice specifies, as Go interfaces only, the two external
// collaborators the transaction engine depends on (§6): the Sequencer and
// the Log. Their concrete transport, wire codec, and RPC routing are out
// of scope (§1) — what optx needs from them is exactly the contract
// below, plus the abort taxonomy used to classify their failures (§7).
package logservice

import (
	"github.com/google/uuid"
	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/fingerprint"
)

// TxResolutionInfo is the wire payload a commit attaches to its log
// append so the sequencer can resolve conflicts (§6.3).
type TxResolutionInfo struct {
	TxID     uuid.UUID
	Snapshot address.Address
	Reads    map[address.StreamID]fingerprint.Set
	Writes   map[address.StreamID]fingerprint.Set

	// Verified tells the sequencer "do not re-flag these streams below
	// these addresses for me" (populated during precise-conflict
	// resolution, §4.4.7). Nil unless precise resolution is in progress.
	Verified map[address.StreamID]address.Address
}

// TokenResponse is the result of a sequencer token request.
type TokenResponse struct {
	Token        address.Address
	Backpointers map[address.StreamID]address.Address
}

// LogDataType distinguishes a real payload from a filled hole.
type LogDataType int

const (
	DataEntry LogDataType = iota
	HoleEntry
)

// LogData is what Log.Read returns for one address.
type LogData struct {
	Type         LogDataType
	Payload      *PersistedEntry
	Backpointers map[address.StreamID]address.Address
}

// PersistedEntry is the durable form of a committed Multi-Object SMR
// Entry: per stream, the ordered list of (method, args) committed
// together, plus the transaction that produced them.
type PersistedEntry struct {
	TxID    uuid.UUID
	Streams map[address.StreamID][]PersistedOp
}

// PersistedOp is one committed mutation as stored on the log.
// ConflictParams carries the raw (unhashed) conflict parameters the
// writer recorded for this op, so a precise-conflict resolution pass
// (§4.4.7) can compare actual values instead of the sequencer's
// collision-prone fingerprints.
type PersistedOp struct {
	Method         string
	Args           []any
	Undo           *UndoRecord
	ConflictParams []any
}

// UndoRecord mirrors smr.UndoRecord at the wire layer, kept distinct so
// logservice has no import-time dependency on smr's in-memory shape.
type UndoRecord struct {
	Method string
	Args   []any
}
