// Package memlog is an in-process Sequencer+Log test double implementing
// the logservice contracts (§6). It is not a specified component — the
// physical log and sequencer are out of scope (§1) — but it lets the
// engine package be exercised end to end without a real cluster.
//
// Its commit path reuses the teacher's (mvcc.MVCCMap.commit) trick of
// keeping the critical section to exactly "check conflicts, then swap in
// the new version" under a single mutex, and its per-stream range scans
// are backed by a github.com/google/btree index the way
// launix-de/memcp's storage.StorageIndex backs range queries over a
// delta btree.
package memlog

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/fingerprint"
	"github.com/slogtx/optx/logservice"
)

type commitRecord struct {
	addr    address.Address
	writeFP map[address.StreamID]fingerprint.Set
	entry   *logservice.PersistedEntry
}

func lessRecord(a, b commitRecord) bool { return a.addr < b.addr }

// Store is an in-memory Sequencer and Log over the same address space.
type Store struct {
	mu sync.Mutex

	nextAddr address.Address
	byAddr   map[address.Address]commitRecord
	perSteam map[address.StreamID]*btree.BTreeG[commitRecord]
	backptr  map[address.StreamID]address.Address
	trimAt   map[address.StreamID]address.Address
	holes    map[address.Address]struct{}
}

// New returns an empty Store whose first real address is 0.
func New() *Store {
	return &Store{
		byAddr:   make(map[address.Address]commitRecord),
		perSteam: make(map[address.StreamID]*btree.BTreeG[commitRecord]),
		backptr:  make(map[address.StreamID]address.Address),
		trimAt:   make(map[address.StreamID]address.Address),
		holes:    make(map[address.Address]struct{}),
	}
}

func (s *Store) streamIndex(stream address.StreamID) *btree.BTreeG[commitRecord] {
	idx, ok := s.perSteam[stream]
	if !ok {
		idx = btree.NewG(32, lessRecord)
		s.perSteam[stream] = idx
	}
	return idx
}

// Sequencer returns a view of the store implementing logservice.Sequencer.
func (s *Store) Sequencer() *SequencerHandle { return &SequencerHandle{s} }

// Log returns a view of the store implementing logservice.Log.
func (s *Store) Log() *LogHandle { return &LogHandle{s} }

// SequencerHandle adapts Store to logservice.Sequencer.
type SequencerHandle struct{ s *Store }

// LogHandle adapts Store to logservice.Log.
type LogHandle struct{ s *Store }

var (
	_ logservice.Sequencer = (*SequencerHandle)(nil)
	_ logservice.Log       = (*LogHandle)(nil)
)

// NextToken implements logservice.Sequencer.
func (h *SequencerHandle) NextToken(ctx context.Context, streams []address.StreamID, count uint32) (logservice.TokenResponse, error) {
	return h.s.nextToken(ctx, streams, count)
}

// Append implements logservice.Sequencer.
func (h *SequencerHandle) Append(ctx context.Context, streams []address.StreamID, payload *logservice.PersistedEntry, resolution logservice.TxResolutionInfo) (address.Address, error) {
	return h.s.resolveAndAppend(ctx, streams, payload, resolution)
}

// Read implements logservice.Log.
func (h *LogHandle) Read(ctx context.Context, addr address.Address) (logservice.LogData, error) {
	return h.s.read(ctx, addr)
}

// Append implements logservice.Log.
func (h *LogHandle) Append(ctx context.Context, addr address.Address, streams []address.StreamID, payload *logservice.PersistedEntry) error {
	return h.s.appendAt(ctx, addr, streams, payload)
}

// FillHole implements logservice.Log.
func (h *LogHandle) FillHole(ctx context.Context, addr address.Address) error {
	return h.s.fillHole(ctx, addr)
}

// StreamUpTo implements logservice.Log.
func (h *LogHandle) StreamUpTo(ctx context.Context, stream address.StreamID, from, to address.Address) ([]logservice.StreamEntry, error) {
	return h.s.streamUpTo(ctx, stream, from, to)
}

func (s *Store) nextToken(_ context.Context, streams []address.StreamID, count uint32) (logservice.TokenResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.nextAddr
	if count > 0 {
		s.nextAddr += address.Address(count)
	}

	back := make(map[address.StreamID]address.Address, len(streams))
	for _, st := range streams {
		if a, ok := s.backptr[st]; ok {
			back[st] = a
		} else {
			back[st] = address.NeverRead
		}
	}
	return logservice.TokenResponse{Token: token, Backpointers: back}, nil
}

// resolveAndAppend atomically checks resolution against everything
// committed since resolution.Snapshot and, if clear, assigns the next
// address and stores payload there.
func (s *Store) resolveAndAppend(_ context.Context, streams []address.StreamID, payload *logservice.PersistedEntry, resolution logservice.TxResolutionInfo) (address.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for stream, reads := range resolution.Reads {
		if len(reads) == 0 {
			continue
		}
		verifiedUpTo, isVerified := resolution.Verified[stream]

		var conflictAddr address.Address
		hasConflict := false
		idx := s.perSteam[stream]
		if idx != nil {
			idx.AscendRange(
				commitRecord{addr: resolution.Snapshot + 1},
				commitRecord{addr: address.MaxAddress},
				func(rec commitRecord) bool {
					if isVerified && rec.addr <= verifiedUpTo {
						return true
					}
					if reads.Intersects(rec.writeFP[stream]) {
						conflictAddr = rec.addr
						hasConflict = true
						return false
					}
					return true
				},
			)
		}
		if hasConflict {
			return 0, &logservice.ConflictAbortError{Stream: stream, Address: conflictAddr}
		}
	}

	addr := s.nextAddr
	s.nextAddr++

	writeFP := make(map[address.StreamID]fingerprint.Set, len(resolution.Writes))
	for stream, fps := range resolution.Writes {
		writeFP[stream] = fps
	}

	rec := commitRecord{addr: addr, writeFP: writeFP, entry: payload}
	s.byAddr[addr] = rec
	for _, stream := range streams {
		s.streamIndex(stream).ReplaceOrInsert(rec)
		s.backptr[stream] = addr
	}
	return addr, nil
}

func (s *Store) read(_ context.Context, addr address.Address) (logservice.LogData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, isHole := s.holes[addr]; isHole {
		return logservice.LogData{Type: logservice.HoleEntry}, nil
	}
	rec, ok := s.byAddr[addr]
	if !ok {
		return logservice.LogData{}, &logservice.TrimAbortError{At: addr}
	}
	return logservice.LogData{Type: logservice.DataEntry, Payload: rec.entry}, nil
}

// appendAt is logservice.Log's direct-append path (used by
// reconciliation tools, not by the transaction engine's commit path,
// which always goes through Sequencer.Append).
func (s *Store) appendAt(_ context.Context, addr address.Address, streams []address.StreamID, payload *logservice.PersistedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAddr[addr]; ok {
		return &logservice.OverwriteError{Address: addr}
	}
	if _, ok := s.holes[addr]; ok {
		return &logservice.OverwriteError{Address: addr}
	}
	rec := commitRecord{addr: addr, entry: payload}
	s.byAddr[addr] = rec
	for _, stream := range streams {
		s.streamIndex(stream).ReplaceOrInsert(rec)
		s.backptr[stream] = addr
	}
	if addr >= s.nextAddr {
		s.nextAddr = addr + 1
	}
	return nil
}

func (s *Store) fillHole(_ context.Context, addr address.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAddr[addr]; ok {
		return &logservice.OverwriteError{Address: addr}
	}
	s.holes[addr] = struct{}{}
	return nil
}

func (s *Store) streamUpTo(_ context.Context, stream address.StreamID, from, to address.Address) ([]logservice.StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := from + 1
	if from == address.NeverRead {
		lower = 0 // from the stream's origin
	}

	if trimmed, ok := s.trimAt[stream]; ok && lower <= trimmed {
		return nil, &logservice.TrimAbortError{Stream: stream, At: trimmed}
	}

	idx := s.perSteam[stream]
	if idx == nil {
		return nil, nil
	}

	var out []logservice.StreamEntry
	idx.AscendRange(
		commitRecord{addr: lower},
		commitRecord{addr: to + 1},
		func(rec commitRecord) bool {
			var txid uuid.UUID
			var ops []logservice.PersistedOp
			if rec.entry != nil {
				txid = rec.entry.TxID
				ops = rec.entry.Streams[stream]
			}
			out = append(out, logservice.StreamEntry{Address: rec.addr, TxID: txid, Ops: ops})
			return true
		},
	)
	return out, nil
}

// TrimBefore marks every committed entry on stream at an address up to
// and including at as collected, so a later StreamUpTo call whose range
// reaches into it (including one from the stream's origin) returns
// *logservice.TrimAbortError. Entries are not removed and Read is not
// affected. It models the log
// service's own retention policy (out of scope per §1), exposed so
// engine tests can exercise the Trim abort path.
func (s *Store) TrimBefore(stream address.StreamID, at address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimAt[stream] = at
}
