package memlog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/fingerprint"
	"github.com/slogtx/optx/logservice"
	"github.com/slogtx/optx/logservice/memlog"
	"github.com/stretchr/testify/require"
)

func TestNextTokenAdvancesAndReportsBackpointers(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()
	seq := store.Sequencer()
	stream := address.StreamIDFromString("a")

	tok1, err := seq.NextToken(ctx, []address.StreamID{stream}, 1)
	require.NoError(t, err)
	require.Equal(t, address.NeverRead, tok1.Backpointers[stream])

	addr, err := seq.Append(ctx, []address.StreamID{stream}, &logservice.PersistedEntry{}, logservice.TxResolutionInfo{
		Snapshot: address.NeverRead,
		Writes:   map[address.StreamID]fingerprint.Set{stream: fingerprint.NewSet(fingerprint.Of("k"))},
	})
	require.NoError(t, err)

	tok2, err := seq.NextToken(ctx, []address.StreamID{stream}, 1)
	require.NoError(t, err)
	require.Equal(t, addr, tok2.Backpointers[stream])
}

func TestAppendDetectsConflict(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()
	seq := store.Sequencer()
	stream := address.StreamIDFromString("a")

	k := fingerprint.Of("k")
	addr1, err := seq.Append(ctx, []address.StreamID{stream}, &logservice.PersistedEntry{TxID: uuid.New()}, logservice.TxResolutionInfo{
		Snapshot: address.NeverRead,
		Writes:   map[address.StreamID]fingerprint.Set{stream: fingerprint.NewSet(k)},
	})
	require.NoError(t, err)

	_, err = seq.Append(ctx, []address.StreamID{stream}, &logservice.PersistedEntry{TxID: uuid.New()}, logservice.TxResolutionInfo{
		Snapshot: address.NeverRead, // stale snapshot: before addr1
		Reads:    map[address.StreamID]fingerprint.Set{stream: fingerprint.NewSet(k)},
		Writes:   map[address.StreamID]fingerprint.Set{stream: fingerprint.NewSet(k)},
	})
	require.Error(t, err)
	var conflict *logservice.ConflictAbortError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, addr1, conflict.Address)
}

func TestAppendAllowsWhenReadsDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()
	seq := store.Sequencer()
	stream := address.StreamIDFromString("a")

	_, err := seq.Append(ctx, []address.StreamID{stream}, &logservice.PersistedEntry{}, logservice.TxResolutionInfo{
		Snapshot: address.NeverRead,
		Writes:   map[address.StreamID]fingerprint.Set{stream: fingerprint.NewSet(fingerprint.Of("k1"))},
	})
	require.NoError(t, err)

	snap, err := seq.NextToken(ctx, []address.StreamID{stream}, 1)
	require.NoError(t, err)

	_, err = seq.Append(ctx, []address.StreamID{stream}, &logservice.PersistedEntry{}, logservice.TxResolutionInfo{
		Snapshot: snap.Token,
		Reads:    map[address.StreamID]fingerprint.Set{stream: fingerprint.NewSet(fingerprint.Of("k2"))},
		Writes:   map[address.StreamID]fingerprint.Set{stream: fingerprint.NewSet(fingerprint.Of("k2"))},
	})
	require.NoError(t, err)
}

func TestStreamUpToAndTrim(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()
	seq := store.Sequencer()
	log := store.Log()
	stream := address.StreamIDFromString("a")

	addr, err := seq.Append(ctx, []address.StreamID{stream}, &logservice.PersistedEntry{
		Streams: map[address.StreamID][]logservice.PersistedOp{stream: {{Method: "put"}}},
	}, logservice.TxResolutionInfo{Snapshot: address.NeverRead})
	require.NoError(t, err)

	entries, err := log.StreamUpTo(ctx, stream, address.NeverRead, addr)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "put", entries[0].Ops[0].Method)

	store.TrimBefore(stream, addr)
	_, err = log.StreamUpTo(ctx, stream, address.NeverRead, addr)
	var trim *logservice.TrimAbortError
	require.ErrorAs(t, err, &trim)
}

func TestFillHoleThenAppendOverwrites(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()
	log := store.Log()

	require.NoError(t, log.FillHole(ctx, 0))
	data, err := log.Read(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, logservice.HoleEntry, data.Type)

	err = log.Append(ctx, 0, nil, &logservice.PersistedEntry{})
	var overwrite *logservice.OverwriteError
	require.ErrorAs(t, err, &overwrite)
}
