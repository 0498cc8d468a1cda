package logservice

import (
	"context"

	"github.com/slogtx/optx/address"
)

// Sequencer issues totally ordered log tokens and atomically resolves
// transaction commits against them (§6.1).
type Sequencer interface {
	// NextToken issues the next count address(es) for the given streams
	// and reports, per stream, the address of the last entry written to
	// it before this call. count == 0 queries the current tail without
	// allocating anything — used to pick a read snapshot for TXBegin.
	NextToken(ctx context.Context, streams []address.StreamID, count uint32) (TokenResponse, error)

	// Append performs an atomic NextToken+log-write: it assigns an
	// address only if no fingerprint in resolution.Reads has been
	// updated on its stream since resolution.Snapshot (subject to
	// resolution.Verified), then stores payload at that address.
	//
	// On overlap it returns a *ConflictAbortError naming the first
	// offending (stream, address) pair.
	Append(ctx context.Context, streams []address.StreamID, payload *PersistedEntry, resolution TxResolutionInfo) (address.Address, error)
}
