package rmap_test

import (
	"context"
	"testing"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/engine"
	"github.com/slogtx/optx/logservice/memlog"
	"github.com/slogtx/optx/objects/rmap"
	"github.com/stretchr/testify/require"
)

func newTestRuntime() *engine.Runtime {
	store := memlog.New()
	return engine.NewRuntime(store.Sequencer(), store.Log())
}

func TestHandlePutGetOneShot(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	h := rmap.Open[string, int](rt, address.StreamIDFromString("m"))

	_, existed, err := h.Put(ctx, "k1", 1)
	require.NoError(t, err)
	require.False(t, existed)

	val, ok, err := h.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, val)
}

func TestHandleInsideExplicitTransaction(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	h := rmap.Open[string, int](rt, address.StreamIDFromString("m"))

	_, err := rt.TXBegin(ctx, engine.Optimistic, address.NeverRead)
	require.NoError(t, err)

	_, _, err = h.Put(ctx, "k1", 1)
	require.NoError(t, err)
	_, _, err = h.Put(ctx, "k1", 2)
	require.NoError(t, err)

	_, err = rt.TXEnd(ctx)
	require.NoError(t, err)

	val, ok, err := h.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, val)
}

func TestHandleAbortRollsBackSpeculativeWrite(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	h := rmap.Open[string, int](rt, address.StreamIDFromString("m"))

	_, _, err := h.Put(ctx, "k1", 1)
	require.NoError(t, err)

	_, err = rt.TXBegin(ctx, engine.Optimistic, address.NeverRead)
	require.NoError(t, err)
	_, _, err = h.Put(ctx, "k1", 2)
	require.NoError(t, err)
	rt.TXAbort()

	val, ok, err := h.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, val)
}

func TestHandleRemoveMissingKeyUndoIsNoop(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	h := rmap.Open[string, int](rt, address.StreamIDFromString("m"))

	_, err := rt.TXBegin(ctx, engine.Optimistic, address.NeverRead)
	require.NoError(t, err)
	_, existed, err := h.Remove(ctx, "missing")
	require.NoError(t, err)
	require.False(t, existed)
	rt.TXAbort()

	ok, err := h.ContainsKey(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHandleDeferredGetObservesCommitTimeValue(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	h := rmap.Open[string, int](rt, address.StreamIDFromString("m"))

	_, _, err := h.Put(ctx, "k1", 1)
	require.NoError(t, err)

	_, err = rt.TXBegin(ctx, engine.Deferred, address.NeverRead)
	require.NoError(t, err)

	var val int
	var found bool
	err = h.DeferredGet(ctx, "k1", func(v int, ok bool) {
		val, found = v, ok
	})
	require.NoError(t, err)

	// Overwritten by a concurrent one-shot write on its own goroutine
	// before this DEFERRED transaction commits; the deferred read must
	// see it (§4.6 commit-time snapshot).
	committed := make(chan struct{})
	go func() {
		defer close(committed)
		_, _, werr := h.Put(ctx, "k1", 2)
		require.NoError(t, werr)
	}()
	<-committed

	_, err = rt.TXEnd(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, val)
}

func TestHandleSizeCountsEntries(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime()
	h := rmap.Open[string, int](rt, address.StreamIDFromString("m"))

	n, err := h.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, _, err = h.Put(ctx, "k1", 1)
	require.NoError(t, err)

	n, err = h.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
