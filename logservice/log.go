package logservice

import (
	"context"

	"github.com/google/uuid"
	"github.com/slogtx/optx/address"
)

// Log is the physical log / address-space service (§6.2). It is written
// to only via Sequencer.Append in this engine's usage — direct Append is
// exposed for completeness of the contract and for test doubles.
type Log interface {
	// Read returns the data stored at addr, or a *TrimAbortError if the
	// address has been garbage-collected.
	Read(ctx context.Context, addr address.Address) (LogData, error)

	// Append writes payload at addr exactly once; a second call at the
	// same address returns *OverwriteError.
	Append(ctx context.Context, addr address.Address, streams []address.StreamID, payload *PersistedEntry) error

	// FillHole marks addr as a hole; subsequent Append at addr returns
	// *OverwriteError, and Read returns type HoleEntry.
	FillHole(ctx context.Context, addr address.Address) error

	// StreamUpTo returns, for stream, every committed entry at an address
	// in (from, to], in ascending order. from == address.NeverRead means
	// "from the stream's origin". Used by sync (§4.1) and by the
	// precise-conflict scan (§4.4.7). Returns *TrimAbortError if any part
	// of the range has been collected.
	StreamUpTo(ctx context.Context, stream address.StreamID, from, to address.Address) ([]StreamEntry, error)
}

// StreamEntry pairs a committed address with the ops it carried for one
// stream.
type StreamEntry struct {
	Address address.Address
	TxID    uuid.UUID
	Ops     []PersistedOp
}
