package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/logservice"
)

// Commit resolves and, if no conflict is found, durably commits this
// context's write set (§4.4.4–4.4.7). A nested context instead folds
// into its parent and never talks to the sequencer (§4.7), returning
// address.FoldedAddress. A DEFERRED root first re-acquires its snapshot
// at commit time before running its closures (§4.6); every other path
// runs them immediately, here.
func (c *Context) Commit(ctx context.Context) (address.Address, error) {
	if err := c.checkActive(); err != nil {
		return 0, err
	}
	if c.parent == nil && c.flavor == Deferred {
		return c.commitDeferredRoot(ctx)
	}
	if err := c.runDeferred(ctx); err != nil {
		return 0, err
	}
	if c.parent != nil {
		return c.foldIntoParent()
	}
	return c.commitRoot(ctx)
}

// Abort marks this context (and, transitively, every child already
// folded into it — there are none, since a fold only happens on a
// successful child commit) as user-aborted and rolls back its
// speculative overlays.
func (c *Context) Abort() {
	c.abort(logservice.User, fmt.Errorf("engine: transaction %s aborted by caller", c.id))
}

// AbortCause reports why a context stopped being active, valid only
// after Commit/Abort has run.
func (c *Context) AbortCause() (logservice.AbortCause, error) {
	return c.abortCause, c.abortErr
}

// runDeferred executes every registered closure synchronously, in
// registration order (§4.6 step 4: "failure of a closure is re-raised
// and aborts the commit", which requires closures to run one at a time,
// not racing each other over shared proxies).
func (c *Context) runDeferred(ctx context.Context) error {
	for _, dc := range c.deferred {
		// Push/Pop so a closure that reaches for its proxies the
		// ergonomic way (proxy.Access/.LogUpdate, which resolve against
		// registry.Current()) still finds this context, not nothing.
		c.rt.registry.Push(c)
		err := dc.fn(c)
		c.rt.registry.Pop()
		if err != nil {
			c.abort(logservice.Classify(err), err)
			return err
		}
	}
	return nil
}

// commitDeferredRoot implements §4.6's commit-time snapshot: a fresh
// token is acquired over the write set's streams plus every stream a
// NO_CONFLICT access touched, the deferred closures then run
// synchronously against that snapshot, and only then does the normal
// resolve-and-append path run (reusing commitRoot, which by then sees
// whatever the closures just buffered).
func (c *Context) commitDeferredRoot(ctx context.Context) (address.Address, error) {
	if c.writeSet.IsEmpty() && len(c.futureAffected) == 0 && len(c.deferred) == 0 {
		c.state.Store(uint32(ctxCommitted))
		c.committedAt = address.NoWriteAddress
		return address.NoWriteAddress, nil
	}

	tail, err := c.rt.currentTail(ctx, c.affectedStreams())
	if err != nil {
		return 0, fmt.Errorf("engine: deferred commit snapshot: %w", err)
	}
	c.snapshot = tail

	if err := c.runDeferred(ctx); err != nil {
		return 0, err
	}
	return c.commitRoot(ctx)
}

// affectedStreams unions the write set's streams with every stream a
// NO_CONFLICT access named (§4.6 step 2's "writeSetStreams ∪
// futureAffectedStream"), plus the transaction-logging stream when
// enabled.
func (c *Context) affectedStreams() []address.StreamID {
	set := c.writeSet.StreamSet()
	out := make([]address.StreamID, 0, len(set)+len(c.futureAffected)+1)
	for s := range set {
		out = append(out, s)
	}
	for s := range c.futureAffected {
		if _, ok := set[s]; ok {
			continue
		}
		out = append(out, s)
	}
	if c.rt.cfg.txLogging {
		out = append(out, c.rt.cfg.txStream)
	}
	return out
}

// foldIntoParent merges this context's write and read sets into its
// parent's and marks it committed without ever reaching the sequencer
// (§4.7 nested transaction fold).
func (c *Context) foldIntoParent() (address.Address, error) {
	c.parent.mu.Lock()
	c.parent.writeSet.Merge(c.writeSet)
	if c.flavor != WriteAfterWrite {
		c.parent.readSet.Merge(c.readSet)
	}
	// Every proxy the child touched now has its overlay ownership
	// transferred to the parent's own view of that stream, which —
	// because writeSet.Merge appended the child's entries onto the
	// parent's live MultiEntry — already reports the combined length.
	// Nothing needs to be (re)applied; the child's writes were already
	// materialized immediately when it made them (§4.1).
	for _, proxy := range c.writeSet.Proxies() {
		childView := c.views[proxy.Stream()]
		parentView := c.parent.viewFor(proxy)
		proxy.vlo.transferOverlay(childView, parentView)
	}
	c.parent.mu.Unlock()

	c.state.Store(uint32(ctxCommitted))
	c.committedAt = address.FoldedAddress
	return address.FoldedAddress, nil
}

// commitRoot is the only path that actually appends to the log: it
// builds a TxResolutionInfo from this context's tracked reads/writes
// (under WriteAfterWrite, its own writes stand in for reads — see
// resolutionInfo) and hands it to the sequencer over the write set's
// streams, plus the transaction-logging stream when enabled. If the
// sequencer reports a hashed collision, it goes through precise-conflict
// resolution, which retries for as long as each reported conflict proves
// false (§4.4.7).
func (c *Context) commitRoot(ctx context.Context) (address.Address, error) {
	if c.writeSet.IsEmpty() {
		c.state.Store(uint32(ctxCommitted))
		c.committedAt = address.NoWriteAddress
		return address.NoWriteAddress, nil
	}

	streams := c.writeSet.Streams()
	if c.rt.cfg.txLogging {
		streams = append(append([]address.StreamID(nil), streams...), c.rt.cfg.txStream)
	}
	payload := c.buildPersistedEntry()
	resolution := c.resolutionInfo(nil)

	addr, err := c.rt.sequencer.Append(ctx, streams, payload, resolution)
	if err != nil {
		var conflict *logservice.ConflictAbortError
		if errors.As(err, &conflict) && c.flavor != WriteAfterWrite {
			addr, err = c.resolvePreciseAndRetry(ctx, streams, payload, conflict)
		}
	}
	if err != nil {
		c.abort(logservice.Classify(err), err)
		return 0, err
	}

	c.state.Store(uint32(ctxCommitted))
	c.committedAt = addr
	c.install(addr)
	return addr, nil
}

// resolutionInfo builds the payload the sequencer conflict-checks.
// WriteAfterWrite substitutes its own writes for the read set: it
// conflicts only against other writers of the same stream, never
// against readers, which is exactly "a fingerprint set intersecting a
// later commit's writes" with Reads populated from Writes instead of
// from tracked accesses (§4.5).
func (c *Context) resolutionInfo(verified map[address.StreamID]address.Address) logservice.TxResolutionInfo {
	reads := c.readSet.HashedView()
	if c.flavor == WriteAfterWrite {
		reads = c.writeSet.HashedWrites()
	}
	return logservice.TxResolutionInfo{
		TxID:     c.id,
		Snapshot: c.snapshot,
		Reads:    reads,
		Writes:   c.writeSet.HashedWrites(),
		Verified: verified,
	}
}

func (c *Context) buildPersistedEntry() *logservice.PersistedEntry {
	out := &logservice.PersistedEntry{TxID: c.id, Streams: make(map[address.StreamID][]logservice.PersistedOp)}
	for _, proxy := range c.writeSet.Proxies() {
		stream := proxy.Stream()
		entries := c.writeSet.EntriesFor(stream)
		params := c.writeSet.ConflictParams(proxy)
		ops := make([]logservice.PersistedOp, len(entries))
		for i, e := range entries {
			op := logservice.PersistedOp{Method: e.Method, Args: e.Args, ConflictParams: params}
			if e.Undo != nil {
				op.Undo = &logservice.UndoRecord{Method: e.Undo.Method, Args: e.Undo.Args}
			}
			ops[i] = op
		}
		out.Streams[stream] = ops
	}
	return out
}

// resolvePreciseAndRetry re-scans the log for the conflicting stream
// and compares this transaction's raw conflict parameters on it (its
// reads and its writes) against the ones actually recorded by every
// commit in (snapshot, conflict], since a fingerprint collision can flag
// a conflict that never really overlapped (§4.4.7). If nothing truly
// overlaps, it retries the append marking the stream Verified so the
// sequencer doesn't re-flag it, and repeats this for every further
// conflict the sequencer reports.
func (c *Context) resolvePreciseAndRetry(ctx context.Context, streams []address.StreamID, payload *logservice.PersistedEntry, conflict *logservice.ConflictAbortError) (address.Address, error) {
	verified := make(map[address.StreamID]address.Address)
	for {
		mine := c.writeSetConflictParamsFor(conflict.Stream)
		for _, proxy := range c.readSet.Proxies() {
			if proxy.Stream() == conflict.Stream {
				mine = append(mine, c.readSet.Params(proxy)...)
			}
		}
		entries, err := c.rt.log.StreamUpTo(ctx, conflict.Stream, c.snapshot, conflict.Address)
		if err != nil {
			return 0, err
		}
		for _, se := range entries {
			for _, op := range se.Ops {
				theirs := c.theirConflictParams(conflict.Stream, op)
				if conflictParamsOverlap(mine, theirs) {
					return 0, &logservice.TransactionAbortedError{
						TxID: c.id, Cause: logservice.PreciseConflict,
						ConflictStream: conflict.Stream, HasConflict: true,
						ConflictAddress: se.Address, Precise: true,
						Err: conflict,
					}
				}
			}
		}
		verified[conflict.Stream] = conflict.Address
		addr, err := c.rt.sequencer.Append(ctx, streams, payload, c.resolutionInfo(verified))
		var next *logservice.ConflictAbortError
		if err == nil || !errors.As(err, &next) {
			return addr, err
		}
		conflict = next
	}
}

// theirConflictParams derives the conflict parameters a committed op
// touches via proxy.getConflictFromEntry (§4.4.7): if the object on
// stream implements ConflictExtractor, its ConflictParams(method, args)
// is authoritative; otherwise this falls back to whatever ConflictParams
// the writer itself attached to the wire payload, which covers producers
// that never synced the object locally to ask it.
func (c *Context) theirConflictParams(stream address.StreamID, op logservice.PersistedOp) []any {
	if proxy, ok := c.rt.proxyFor(stream); ok {
		if params, ok := proxy.vlo.conflictParamsFor(op.Method, op.Args); ok {
			return params
		}
	}
	return op.ConflictParams
}

func (c *Context) writeSetConflictParamsFor(stream address.StreamID) []any {
	var out []any
	for _, proxy := range c.writeSet.Proxies() {
		if proxy.Stream() != stream {
			continue
		}
		out = append(out, c.writeSet.ConflictParams(proxy)...)
	}
	return out
}

func conflictParamsOverlap(mine, theirs []any) bool {
	if len(mine) == 0 || len(theirs) == 0 {
		return len(mine) == 0 && len(theirs) == 0
	}
	for _, m := range mine {
		for _, t := range theirs {
			// nil is the ALL sentinel on either side.
			if m == nil || t == nil || m == t {
				return true
			}
		}
	}
	return false
}

// install brings every touched Version-Locked Object up to the
// committed address: each one's speculative overlay is undone and the
// object is rolled forward through the log to addr, which picks up the
// committed entry itself and any other commit that landed after the
// snapshot (§4.4.6).
func (c *Context) install(addr address.Address) {
	for _, proxy := range c.writeSet.Proxies() {
		proxy.vlo.installCommit(addr)
	}
}

// rollback undoes every touched Version-Locked Object's speculative
// overlay belonging to this context, so a later reader never observes
// the aborted writes.
func (c *Context) rollback() {
	for stream, view := range c.views {
		proxy, ok := c.rt.proxyFor(stream)
		if !ok {
			continue
		}
		proxy.vlo.rollbackOverlay(view)
	}
}
