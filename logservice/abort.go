package logservice

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/slogtx/optx/address"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AbortCause classifies why a transaction failed to commit (§7).
type AbortCause int

const (
	// Undefined is the catch-all cause, used only when the underlying
	// error does not map to anything more specific.
	Undefined AbortCause = iota

	// Conflict: the sequencer rejected the commit because a fingerprint
	// in the read set was updated since the snapshot.
	Conflict

	// PreciseConflict: §4.4.7's log scan confirmed a Conflict was real.
	PreciseConflict

	// Trim: the log range required for sync or precise-conflict scanning
	// has been garbage-collected.
	Trim

	// SequencerFail: the sequencer is unreachable or erred internally.
	SequencerFail

	// Network: a lower-level I/O failure on the log or sequencer.
	Network

	// User: the caller explicitly requested abort.
	User
)

func (c AbortCause) String() string {
	switch c {
	case Conflict:
		return "CONFLICT"
	case PreciseConflict:
		return "PRECISE_CONFLICT"
	case Trim:
		return "TRIM"
	case SequencerFail:
		return "SEQUENCER_FAIL"
	case Network:
		return "NETWORK"
	case User:
		return "USER"
	default:
		return "UNDEFINED"
	}
}

// TransactionAbortedError carries enough of the sequencer's signal for
// the caller to decide whether to retry (§7). Commit returns it when the
// precise-conflict pass confirms a conflict; on every other abort path
// Commit returns the underlying error unwrapped, and the classified cause
// is available from the context's AbortCause.
type TransactionAbortedError struct {
	TxID            uuid.UUID
	Cause           AbortCause
	ConflictStream  address.StreamID
	HasConflict     bool
	ConflictAddress address.Address
	Precise         bool
	Err             error
}

func (e *TransactionAbortedError) Error() string {
	if e.HasConflict {
		return fmt.Sprintf("optx: transaction %s aborted: %s (stream %s @ %s, precise=%v)",
			e.TxID, e.Cause, e.ConflictStream, e.ConflictAddress, e.Precise)
	}
	return fmt.Sprintf("optx: transaction %s aborted: %s: %v", e.TxID, e.Cause, e.Err)
}

func (e *TransactionAbortedError) Unwrap() error { return e.Err }

// ConflictAbortError is returned by Sequencer.Append when an imprecise
// (fingerprint-only) conflict is detected.
type ConflictAbortError struct {
	Stream  address.StreamID
	Address address.Address
}

func (e *ConflictAbortError) Error() string {
	return fmt.Sprintf("logservice: conflict at stream %s address %s", e.Stream, e.Address)
}

// TrimAbortError is returned by Log.Read / Log.StreamUpTo when the
// requested range has been garbage-collected.
type TrimAbortError struct {
	Stream address.StreamID
	At     address.Address
}

func (e *TrimAbortError) Error() string {
	return fmt.Sprintf("logservice: stream %s trimmed at or before %s", e.Stream, e.At)
}

// OverwriteError is raised when Log.Append targets an address that
// already holds data or a hole; a fatal invariant violation at the
// caller, never retried (§7).
type OverwriteError struct {
	Address address.Address
}

func (e *OverwriteError) Error() string {
	return fmt.Sprintf("logservice: address %s already written", e.Address)
}

// Classify turns an error returned by a Sequencer or Log call into an
// AbortCause. It recognizes the engine's own sentinel error types first,
// then falls back to interpreting err as a gRPC status — the contract
// that §6 leaves the wire transport to is assumed, in practice, to speak
// gRPC, so a transport failure surfaces as a grpc/status code even though
// routing itself is out of scope.
func Classify(err error) AbortCause {
	if err == nil {
		return Undefined
	}

	var conflict *ConflictAbortError
	if errors.As(err, &conflict) {
		return Conflict
	}
	var trim *TrimAbortError
	if errors.As(err, &trim) {
		return Trim
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.FailedPrecondition:
			return Conflict
		case codes.NotFound, codes.OutOfRange:
			return Trim
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return Network
		case codes.Internal, codes.Unknown, codes.Unimplemented:
			return SequencerFail
		}
	}

	return Undefined
}
