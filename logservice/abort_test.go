package logservice_test

import (
	"testing"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/logservice"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifyEngineSentinels(t *testing.T) {
	stream := address.StreamIDFromString("a")

	require.Equal(t, logservice.Conflict, logservice.Classify(&logservice.ConflictAbortError{Stream: stream, Address: 5}))
	require.Equal(t, logservice.Trim, logservice.Classify(&logservice.TrimAbortError{Stream: stream, At: 3}))
}

func TestClassifyGRPCStatus(t *testing.T) {
	cases := map[codes.Code]logservice.AbortCause{
		codes.Aborted:     logservice.Conflict,
		codes.NotFound:    logservice.Trim,
		codes.Unavailable: logservice.Network,
		codes.Internal:    logservice.SequencerFail,
	}
	for code, want := range cases {
		err := status.Error(code, "boom")
		require.Equal(t, want, logservice.Classify(err), "code %s", code)
	}
}

func TestClassifyNilIsUndefined(t *testing.T) {
	require.Equal(t, logservice.Undefined, logservice.Classify(nil))
}

func TestTransactionAbortedErrorUnwrap(t *testing.T) {
	inner := &logservice.ConflictAbortError{Stream: address.StreamIDFromString("a"), Address: 1}
	outer := &logservice.TransactionAbortedError{Cause: logservice.Conflict, Err: inner}
	require.ErrorIs(t, outer, inner)
}
