// Package smr defines the state-machine-replication entry types recorded
// on the log: one mutation on one stream (Entry), and the per-stream
// ordered batch committed atomically at a single address (MultiEntry).
package smr

import "github.com/slogtx/optx/address"

// Entry describes one mutation on one stream: the method invoked, its
// arguments, the upcall result if the mutation is also an accessor (e.g.
// map.put returning the previous value), and an optional undo record used
// to roll the mutation back without replaying the whole log.
type Entry struct {
	Method       string
	Args         []any
	UpcallResult any
	HasUpcall    bool
	Undo         *UndoRecord
}

// UndoRecord is the inverse of an Entry, applied by a Version-Locked
// Object to roll back an overlay entry without resetting to origin.
type UndoRecord struct {
	Method string
	Args   []any
}

// WithUpcallResult returns a copy of e carrying the given upcall result.
func (e Entry) WithUpcallResult(result any) Entry {
	e.UpcallResult = result
	e.HasUpcall = true
	return e
}

// MultiEntry is a mapping from Stream ID to the ordered list of Entry
// values affecting it, as committed (or buffered) together. Insertion
// order within a stream is preserved.
type MultiEntry struct {
	streams map[address.StreamID][]Entry
	order   []address.StreamID
}

// NewMultiEntry returns an empty MultiEntry.
func NewMultiEntry() *MultiEntry {
	return &MultiEntry{streams: make(map[address.StreamID][]Entry)}
}

// Append adds entry to the end of stream's list and returns its index
// within that stream (the "speculative address" of §3).
func (m *MultiEntry) Append(stream address.StreamID, entry Entry) int {
	if _, ok := m.streams[stream]; !ok {
		m.order = append(m.order, stream)
	}
	m.streams[stream] = append(m.streams[stream], entry)
	return len(m.streams[stream]) - 1
}

// Set overwrites the entry at (stream, index), used to fill in an upcall
// result discovered during sync.
func (m *MultiEntry) Set(stream address.StreamID, index int, entry Entry) {
	m.streams[stream][index] = entry
}

// Entries returns the ordered list of entries for stream, or nil if the
// stream was never touched.
func (m *MultiEntry) Entries(stream address.StreamID) []Entry {
	return m.streams[stream]
}

// Streams returns every stream touched, in first-append order.
func (m *MultiEntry) Streams() []address.StreamID {
	return m.order
}

// Len returns the number of entries recorded for stream.
func (m *MultiEntry) Len(stream address.StreamID) int {
	return len(m.streams[stream])
}

// IsEmpty reports whether no stream has been touched.
func (m *MultiEntry) IsEmpty() bool {
	return len(m.order) == 0
}

// Merge appends other's entries onto m, stream by stream, preserving
// each stream's relative order (other's entries follow m's). Used when a
// nested transaction folds its write set into its parent's (§4.7).
func (m *MultiEntry) Merge(other *MultiEntry) {
	for _, s := range other.order {
		if _, ok := m.streams[s]; !ok {
			m.order = append(m.order, s)
		}
		m.streams[s] = append(m.streams[s], other.streams[s]...)
	}
}
