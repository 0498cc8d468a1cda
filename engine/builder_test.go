package engine_test

import (
	"context"
	"testing"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/engine"
	"github.com/slogtx/optx/logservice/memlog"
	"github.com/stretchr/testify/require"
)

func newTestRuntime() *engine.Runtime {
	store := memlog.New()
	return engine.NewRuntime(store.Sequencer(), store.Log())
}

func TestOneShotUpdateAndAccessCommitImmediately(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	proxy := rt.Open(address.StreamIDFromString("c1"), newCounter())

	_, err := proxy.LogUpdate(ctx, "add", []any{3}, nil, "key")
	require.NoError(t, err)

	val, err := proxy.Access(ctx, "get", nil)
	require.NoError(t, err)
	require.Equal(t, 3, val)
}

func TestExplicitTransactionBuffersUntilCommit(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	proxy := rt.Open(address.StreamIDFromString("c1"), newCounter())

	_, err := rt.TXBegin(ctx, engine.Optimistic, address.NeverRead)
	require.NoError(t, err)

	_, err = proxy.LogUpdate(ctx, "add", []any{1}, nil, "key")
	require.NoError(t, err)
	val, err := proxy.Access(ctx, "get", nil)
	require.NoError(t, err)
	require.Equal(t, 1, val, "read-your-own-write before commit")

	addr, err := rt.TXEnd(ctx)
	require.NoError(t, err)
	require.True(t, addr.IsReal())
}

func TestTXAbortRollsBackSpeculativeWrite(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	proxy := rt.Open(address.StreamIDFromString("c1"), newCounter())

	_, err := proxy.LogUpdate(ctx, "add", []any{5}, nil, "key")
	require.NoError(t, err)

	_, err = rt.TXBegin(ctx, engine.Optimistic, address.NeverRead)
	require.NoError(t, err)
	_, err = proxy.LogUpdate(ctx, "add", []any{100}, nil, "key")
	require.NoError(t, err)
	rt.TXAbort()

	val, err := proxy.Access(ctx, "get", nil)
	require.NoError(t, err)
	require.Equal(t, 5, val)
}

func TestTXEndWithoutBeginErrors(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	_, err := rt.TXEnd(ctx)
	require.Error(t, err)
}

func TestEnableTxLoggingMirrorsCommits(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()
	rt := engine.NewRuntime(store.Sequencer(), store.Log(), engine.WithTxLogging(true))
	proxy := rt.Open(address.StreamIDFromString("c1"), newCounter())

	_, err := proxy.LogUpdate(ctx, "add", []any{1}, nil, "key")
	require.NoError(t, err)

	txStream := address.StreamIDFromString("_TRANSACTION_STREAM_ID")
	entries, err := store.Log().StreamUpTo(ctx, txStream, address.NeverRead, address.MaxAddress)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "a commit record should have been mirrored")
}

func TestRunMaintenanceEvictsStaleOverlay(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()
	rt := engine.NewRuntime(store.Sequencer(), store.Log(), engine.WithStaleOverlayTTL(0))
	proxy := rt.Open(address.StreamIDFromString("c1"), newCounter())

	leaked := make(chan struct{})
	go func() {
		defer close(leaked)
		_, err := rt.TXBegin(ctx, engine.Optimistic, address.NeverRead)
		require.NoError(t, err)
		_, err = proxy.LogUpdate(ctx, "add", []any{9}, nil, "key")
		require.NoError(t, err)
		// Leak this transaction on its own goroutine: never TXEnd/TXAbort
		// it. A zero TTL means the very next maintenance sweep reclaims
		// the overlay it installed, regardless of what that goroutine
		// does afterward.
	}()
	<-leaked

	rt.RunMaintenance()

	// This goroutine has no context of its own on this stream, so its
	// read runs as an implicit one-shot against whatever the eviction
	// left materialized — the leaked write must not be visible to it.
	val, err := proxy.Access(ctx, "get", nil)
	require.NoError(t, err)
	require.Equal(t, 0, val, "stale overlay should have been undone")
}
