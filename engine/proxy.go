package engine

import (
	"context"
	"fmt"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/smr"
)

// Proxy is the per-object handle bridging a replicated Object to its
// stream's Version-Locked Object and the calling thread's active
// Transactional Context (§3 Object Proxy). All reads and writes against
// a replicated object go through its Proxy, never through the VLO or
// the Object directly.
type Proxy struct {
	stream address.StreamID
	vlo    *VersionLockedObject
	rt     *Runtime
}

func newProxy(stream address.StreamID, vlo *VersionLockedObject, rt *Runtime) *Proxy {
	return &Proxy{stream: stream, vlo: vlo, rt: rt}
}

// NoConflict is the §4.6 NO_CONFLICT sentinel: pass it as a conflict
// parameter to Access to defer that access to commit time, against a
// fresh snapshot, instead of running it (and recording a read) now.
// Only meaningful inside a DEFERRED context.
var NoConflict = noConflictSentinel{}

type noConflictSentinel struct{}

// Stream returns the stream this proxy is bound to.
func (p *Proxy) Stream() address.StreamID { return p.stream }

// Access performs a read-only method against the object, recording
// conflictParams in the current context's conflict set (§4.4.1). If no
// context is active on the calling thread, Access runs inside an
// implicit single-operation OPTIMISTIC transaction (§4.4 one-shot note).
func (p *Proxy) Access(ctx context.Context, method string, args []any, conflictParams ...any) (any, error) {
	if cur := p.rt.registry.Current(); cur != nil {
		return cur.Access(ctx, p, method, args, conflictParams)
	}
	return p.rt.oneShot(ctx, func(c *Context) (any, error) {
		return c.Access(ctx, p, method, args, conflictParams)
	})
}

// LogUpdate performs a mutating method against the object and buffers
// it in the current context's write set (§4.4.2). undoFn, when
// non-nil, is handed the method's upcall result (e.g. a map put's
// previous value) and must return the record that undoes this one
// mutation, letting sync roll a speculative write back without a full
// reset-and-replay.
func (p *Proxy) LogUpdate(ctx context.Context, method string, args []any, undoFn func(result any, hasResult bool) *smr.UndoRecord, conflictParams ...any) (any, error) {
	if cur := p.rt.registry.Current(); cur != nil {
		return cur.LogUpdate(ctx, p, method, args, undoFn, conflictParams)
	}
	return p.rt.oneShot(ctx, func(c *Context) (any, error) {
		return c.LogUpdate(ctx, p, method, args, undoFn, conflictParams)
	})
}

// DeferredAccess registers method/args to run at commit time, against
// whatever fresh snapshot a DEFERRED commit acquires (§4.6's NO_CONFLICT
// access, the ergonomic entry point to Access's NoConflict sentinel).
// fn receives the eventual result once the closure actually runs; the
// call itself returns as soon as the closure is queued, since there is
// nothing to return yet. Requires an active transaction on the calling
// thread.
func (p *Proxy) DeferredAccess(ctx context.Context, method string, args []any, fn func(result any, err error)) error {
	cur := p.rt.registry.Current()
	if cur == nil {
		return fmt.Errorf("engine: DeferredAccess requires an active transaction")
	}
	return cur.deferAccess(ctx, p, method, args, fn)
}

// NoAccess buffers a write without syncing or touching the materialized
// object — the blind-write path for methods whose effect doesn't depend
// on current state.
func (p *Proxy) NoAccess(ctx context.Context, method string, args []any, conflictParams ...any) error {
	if cur := p.rt.registry.Current(); cur != nil {
		return cur.NoAccess(p, method, args, conflictParams)
	}
	_, err := p.rt.oneShot(ctx, func(c *Context) (any, error) {
		return nil, c.NoAccess(p, method, args, conflictParams)
	})
	return err
}
