package engine

import (
	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/fingerprint"
	"github.com/slogtx/optx/smr"
)

// WriteSet is a ConflictSet extended with the set of affected streams and
// a Multi-Object SMR Entry holding the speculative updates (§3).
type WriteSet struct {
	conflicts *ConflictSet
	streams   map[address.StreamID]struct{}
	entries   *smr.MultiEntry
}

// NewWriteSet returns an empty WriteSet.
func NewWriteSet() *WriteSet {
	return &WriteSet{
		conflicts: NewConflictSet(),
		streams:   make(map[address.StreamID]struct{}),
		entries:   smr.NewMultiEntry(),
	}
}

// Add appends entry to proxy's stream and records proxy plus
// conflictParams against the write set's own conflict tracking (used by
// WAW, §4.5). It returns the per-stream index of the new entry — the
// speculative address.
func (w *WriteSet) Add(proxy *Proxy, entry smr.Entry, conflictParams ...any) int {
	w.streams[proxy.Stream()] = struct{}{}
	w.conflicts.Record(proxy, conflictParams...)
	return w.entries.Append(proxy.Stream(), entry)
}

// SetEntry overwrites the entry at (stream, index), used to cache an
// upcall result discovered during sync.
func (w *WriteSet) SetEntry(stream address.StreamID, index int, entry smr.Entry) {
	w.entries.Set(stream, index, entry)
}

// EntryAt returns the entry at (stream, index).
func (w *WriteSet) EntryAt(stream address.StreamID, index int) (smr.Entry, bool) {
	entries := w.entries.Entries(stream)
	if index < 0 || index >= len(entries) {
		return smr.Entry{}, false
	}
	return entries[index], true
}

// Proxies returns every proxy this write set has recorded a write
// against, including blind (NoAccess) writes.
func (w *WriteSet) Proxies() []*Proxy {
	return w.conflicts.Proxies()
}

// Streams returns every stream this write set affects, in first-write
// order.
func (w *WriteSet) Streams() []address.StreamID {
	return w.entries.Streams()
}

// StreamSet returns the affected streams as a set, for unioning with
// other stream sets (e.g. Context.futureAffected in DEFERRED commit).
func (w *WriteSet) StreamSet() map[address.StreamID]struct{} {
	return w.streams
}

// Entries returns the underlying Multi-Object SMR Entry.
func (w *WriteSet) Entries() *smr.MultiEntry {
	return w.entries
}

// EntriesFor returns the ordered entries recorded for stream.
func (w *WriteSet) EntriesFor(stream address.StreamID) []smr.Entry {
	return w.entries.Entries(stream)
}

// Len returns the number of entries recorded for stream.
func (w *WriteSet) Len(stream address.StreamID) int {
	return w.entries.Len(stream)
}

// IsEmpty reports whether no writes have been buffered.
func (w *WriteSet) IsEmpty() bool {
	return w.entries.IsEmpty()
}

// HashedWrites produces the Stream ID → Fingerprint Set the sequencer
// compares against (§4.3).
func (w *WriteSet) HashedWrites() map[address.StreamID]fingerprint.Set {
	return w.conflicts.HashedView()
}

// ConflictParams returns the raw conflict parameters recorded for proxy's
// writes, used by the precise-conflict loop (§4.4.7) to test overlap
// against a committed entry's conflict parameters.
func (w *WriteSet) ConflictParams(proxy *Proxy) []any {
	return w.conflicts.Params(proxy)
}

// Merge appends other's entries onto w and unions its conflict tracking,
// preserving per-stream order (other's entries follow w's). Used when a
// nested transaction folds into its parent (§4.7).
func (w *WriteSet) Merge(other *WriteSet) {
	for s := range other.streams {
		w.streams[s] = struct{}{}
	}
	w.conflicts.Merge(other.conflicts)
	w.entries.Merge(other.entries)
}
