// Package address defines the identifier types shared by every layer of
// optx: the opaque per-object Stream ID and the totally ordered Global
// Address assigned by the sequencer.
package address

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// StreamID identifies one replicated object. It is opaque to the engine:
// callers mint one per object and never interpret its bytes.
type StreamID [16]byte

// NewStreamID returns a random StreamID.
func NewStreamID() StreamID {
	var id StreamID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("address: failed to read random stream id: %v", err))
	}
	return id
}

// StreamIDFromString derives a deterministic StreamID from a name, so
// tests and examples can refer to "the stream called foo" without
// plumbing a generated id around.
func StreamIDFromString(name string) StreamID {
	var id StreamID
	copy(id[:], name)
	return id
}

func (s StreamID) String() string {
	return hex.EncodeToString(s[:])
}

// Address is a 64-bit monotonically increasing log position.
type Address uint64

const (
	// NeverRead marks a proxy/VLO that has never synced against the log.
	NeverRead Address = ^Address(0) - 0

	// NoWriteAddress is returned by a commit whose write set was empty.
	NoWriteAddress Address = ^Address(0) - 1

	// FoldedAddress is returned by a nested commit that merged into its
	// parent instead of writing to the log.
	FoldedAddress Address = ^Address(0) - 2

	// MaxAddress is the reserved upper bound used for open-ended scans;
	// like the other sentinels, it is never a real log position.
	MaxAddress Address = ^Address(0) - 3
)

// IsReal reports whether addr names an actual log position rather than
// one of the reserved sentinels.
func (a Address) IsReal() bool {
	return a != NeverRead && a != NoWriteAddress && a != FoldedAddress && a != MaxAddress
}

func (a Address) String() string {
	switch a {
	case NeverRead:
		return "NEVER_READ"
	case NoWriteAddress:
		return "NOWRITE_ADDRESS"
	case FoldedAddress:
		return "FOLDED_ADDRESS"
	case MaxAddress:
		return "MAX"
	default:
		return fmt.Sprintf("%d", uint64(a))
	}
}
