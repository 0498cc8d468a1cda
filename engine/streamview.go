package engine

import (
	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/smr"
)

// StreamView is a positioned, replayable view over one stream's slice of
// a write set (§4.2). Across nested transactions it concatenates the
// write sets of every context on the stack, root first, in stack order,
// so a Version-Locked Object's optimistic overlay always reflects both
// the root's and every still-open child's speculative writes. It does
// not support append or seek — the commit path mutates write sets
// directly through Context.LogUpdate.
type StreamView struct {
	stream   address.StreamID
	segments []*WriteSet // root -> ... -> leaf
	pos      int
	rootCtx  *Context
}

func newStreamView(stream address.StreamID, segments []*WriteSet, rootCtx *Context) *StreamView {
	return &StreamView{stream: stream, segments: segments, rootCtx: rootCtx}
}

// Pos returns the current position.
func (v *StreamView) Pos() int { return v.pos }

// Reset rewinds the view to the beginning.
func (v *StreamView) Reset() { v.pos = 0 }

// Advance moves the position forward by one entry.
func (v *StreamView) Advance() { v.pos++ }

// Len returns the total number of entries across every segment.
func (v *StreamView) Len() int {
	n := 0
	for _, seg := range v.segments {
		n += seg.Len(v.stream)
	}
	return n
}

// Current returns the entry at the current position.
func (v *StreamView) Current() (smr.Entry, bool) {
	return v.entryAt(v.pos)
}

// Previous returns the entry immediately before the current position.
func (v *StreamView) Previous() (smr.Entry, bool) {
	if v.pos == 0 {
		return smr.Entry{}, false
	}
	return v.entryAt(v.pos - 1)
}

// RemainingUpTo returns the entries from the current position up to
// (exclusive) limit, or to the end if limit is negative or beyond it.
func (v *StreamView) RemainingUpTo(limit int) []smr.Entry {
	total := v.Len()
	if limit < 0 || limit > total {
		limit = total
	}
	out := make([]smr.Entry, 0, limit-v.pos)
	for i := v.pos; i < limit; i++ {
		e, ok := v.entryAt(i)
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

// SetUpcallResult writes an upcall result back into the segment that
// owns the entry at global index i, so a later getUpcallResult call can
// read it without redoing the sync (§4.1 step 4, §4.4.3).
func (v *StreamView) SetUpcallResult(i int, result any) {
	seg, local, ok := v.locate(i)
	if !ok {
		return
	}
	e, ok := seg.EntryAt(v.stream, local)
	if !ok {
		return
	}
	seg.SetEntry(v.stream, local, e.WithUpcallResult(result))
}

// IsCurrentContext reports whether this view's innermost (leaf) write set
// is identical to the given registry's current context's write set —
// the context-match predicate of open question #1.
func (v *StreamView) IsCurrentContext(reg *Registry) bool {
	cur := reg.Current()
	if cur == nil || len(v.segments) == 0 {
		return false
	}
	return cur.writeSet == v.segments[len(v.segments)-1]
}

// IsCurrentThread reports whether this view's root context is the same
// as the calling thread's current root context — the root-match
// predicate of open question #1.
func (v *StreamView) IsCurrentThread(reg *Registry) bool {
	root := reg.Root()
	if root == nil {
		return false
	}
	return root == v.rootCtx
}

// EntryAt returns the entry at global position i across every segment,
// used by a Version-Locked Object's sync to walk a view outside of its
// own Pos/Advance cursor.
func (v *StreamView) EntryAt(i int) (smr.Entry, bool) {
	return v.entryAt(i)
}

func (v *StreamView) entryAt(i int) (smr.Entry, bool) {
	seg, local, ok := v.locate(i)
	if !ok {
		return smr.Entry{}, false
	}
	return seg.EntryAt(v.stream, local)
}

func (v *StreamView) locate(i int) (*WriteSet, int, bool) {
	if i < 0 {
		return nil, 0, false
	}
	for _, seg := range v.segments {
		l := seg.Len(v.stream)
		if i < l {
			return seg, i, true
		}
		i -= l
	}
	return nil, 0, false
}
