package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/logservice"
	"github.com/slogtx/optx/smr"
)

// Flavor selects a Transactional Context's commit discipline (§4.4–4.6).
type Flavor int

const (
	// Optimistic detects conflicts by comparing this transaction's reads
	// against every write committed since its snapshot (§4.4).
	Optimistic Flavor = iota
	// WriteAfterWrite ignores reads entirely and conflicts only against
	// other writers of the same streams (§4.5).
	WriteAfterWrite
	// Deferred runs its body's accumulated closures at commit time,
	// against whatever snapshot is current then, before resolving
	// exactly like Optimistic (§4.6).
	Deferred
)

func (f Flavor) String() string {
	switch f {
	case Optimistic:
		return "OPTIMISTIC"
	case WriteAfterWrite:
		return "WRITE_AFTER_WRITE"
	case Deferred:
		return "DEFERRED"
	default:
		return "UNKNOWN"
	}
}

// ctxState is the lifecycle of a Context, mirrored as an atomic state
// machine the same way the teacher's Tx tracks active/committed/
// rolledBack.
type ctxState uint32

const (
	ctxActive ctxState = iota
	ctxCommitted
	ctxAborted
)

// Context is a Transactional Context (§3): one thread's speculative
// view of the database between TXBegin and commit/abort. Nested
// transactions form a stack of Contexts per thread (§4.7); only the
// root ever talks to the sequencer.
type Context struct {
	id     uuid.UUID
	flavor Flavor
	rt     *Runtime
	parent *Context

	snapshot address.Address
	writeSet *WriteSet
	readSet  *ConflictSet
	views    map[address.StreamID]*StreamView
	deferred []deferredClosure
	// futureAffected collects the streams touched by a NO_CONFLICT access
	// (§4.6): a DEFERRED root folds these into the commit-time token
	// request alongside whatever the write set already names.
	futureAffected map[address.StreamID]struct{}

	// mu guards writeSet/readSet/views bookkeeping. Access and LogUpdate
	// hold it for the whole call, including the Version-Locked Object's
	// sync under that object's own lock. Deferred closures (§4.6) run
	// sequentially, never concurrently with each other, and take it the
	// same way through Access/LogUpdate.
	mu sync.Mutex

	state       atomic.Uint32
	committedAt address.Address
	abortCause  logservice.AbortCause
	abortErr    error
}

// deferredClosure is one entry of a DEFERRED context's closure list:
// the closure itself, plus the stream it was registered against (zero
// value if registered generically via Defer rather than through a
// NO_CONFLICT access).
type deferredClosure struct {
	stream address.StreamID
	fn     func(*Context) error
}

func newContext(rt *Runtime, flavor Flavor, parent *Context, snapshot address.Address) *Context {
	return &Context{
		id:       uuid.New(),
		flavor:   flavor,
		rt:       rt,
		parent:   parent,
		snapshot: snapshot,
		writeSet: NewWriteSet(),
		readSet:  NewConflictSet(),
		views:    make(map[address.StreamID]*StreamView),
	}
}

// ID returns the transaction's identifier.
func (c *Context) ID() uuid.UUID { return c.id }

// Flavor returns the commit discipline this context was opened with.
func (c *Context) Flavor() Flavor { return c.flavor }

// Snapshot returns the log address this context reads as-of.
func (c *Context) Snapshot() address.Address { return c.snapshot }

// IsNested reports whether this context has a parent on the same
// thread's stack.
func (c *Context) IsNested() bool { return c.parent != nil }

func (c *Context) root() *Context {
	r := c
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (c *Context) ancestorsRootFirst() []*Context {
	var chain []*Context
	for cur := c; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// viewFor returns this context's cached StreamView for proxy's stream,
// building it on first use. Callers must hold c.mu.
func (c *Context) viewFor(proxy *Proxy) *StreamView {
	if v, ok := c.views[proxy.stream]; ok {
		return v
	}
	chain := c.ancestorsRootFirst()
	segments := make([]*WriteSet, len(chain))
	for i, a := range chain {
		segments[i] = a.writeSet
	}
	v := newStreamView(proxy.stream, segments, c.root())
	c.views[proxy.stream] = v
	return v
}

func (c *Context) checkActive() error {
	if ctxState(c.state.Load()) != ctxActive {
		return fmt.Errorf("engine: transaction %s is no longer active", c.id)
	}
	return nil
}

// Access performs a read-only method against proxy's object (§4.4.1).
// Reads are tracked for OPTIMISTIC and DEFERRED contexts; WRITE_AFTER_
// WRITE ignores them since it never conflict-checks reads. If
// conflictParams carries the NO_CONFLICT sentinel, this call is instead
// deferred to commit time against a fresh snapshot (§4.6) and returns
// nothing now.
func (c *Context) Access(ctx context.Context, proxy *Proxy, method string, args []any, conflictParams []any) (any, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	if hasNoConflict(conflictParams) {
		return nil, c.deferAccess(ctx, proxy, method, args, nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.viewFor(proxy)
	if c.flavor != WriteAfterWrite {
		c.readSet.Record(proxy, conflictParams...)
	}
	result, _, err := proxy.vlo.Access(ctx, c.snapshot, c.rt.registry.ThreadID(), view, method, args)
	if err != nil {
		c.abort(logservice.Classify(err), err)
		return nil, err
	}
	return result, nil
}

// hasNoConflict reports whether params carries the NO_CONFLICT sentinel.
func hasNoConflict(params []any) bool {
	for _, p := range params {
		if _, ok := p.(noConflictSentinel); ok {
			return true
		}
	}
	return false
}

// deferAccess implements §4.6's NO_CONFLICT override: method is not run
// now and nothing is recorded in the read set. Instead it is captured as
// a closure that re-runs it for real at commit time, once a fresh
// snapshot is known, and proxy's stream is added to the future-affected
// set so the commit-time token request covers it too. fn, if non-nil,
// receives the eventual result.
func (c *Context) deferAccess(ctx context.Context, proxy *Proxy, method string, args []any, fn func(result any, err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.futureAffected == nil {
		c.futureAffected = make(map[address.StreamID]struct{})
	}
	c.futureAffected[proxy.Stream()] = struct{}{}
	c.deferred = append(c.deferred, deferredClosure{
		stream: proxy.Stream(),
		fn: func(cc *Context) error {
			result, err := cc.Access(ctx, proxy, method, args, nil)
			if fn != nil {
				fn(result, err)
			}
			return err
		},
	})
	return nil
}

// LogUpdate performs a mutating method against proxy's object and
// buffers it in this context's write set (§4.4.2). undoFn, if non-nil,
// receives the method's upcall result and produces the record that
// undoes this one mutation.
func (c *Context) LogUpdate(ctx context.Context, proxy *Proxy, method string, args []any, undoFn func(result any, hasResult bool) *smr.UndoRecord, conflictParams []any) (any, error) {
	if err := c.checkActive(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.viewFor(proxy)
	owner := c.rt.registry.ThreadID()
	result, hasResult, err := proxy.vlo.Update(ctx, c.snapshot, owner, view, method, args)
	if err != nil {
		c.abort(logservice.Classify(err), err)
		return nil, err
	}
	entry := smr.Entry{Method: method, Args: args}
	if undoFn != nil {
		entry.Undo = undoFn(result, hasResult)
	}
	if hasResult {
		entry = entry.WithUpcallResult(result)
	}
	c.writeSet.Add(proxy, entry, conflictParams...)
	return result, nil
}

// NoAccess buffers a blind write without syncing or touching the
// materialized object.
func (c *Context) NoAccess(proxy *Proxy, method string, args []any, conflictParams []any) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeSet.Add(proxy, smr.Entry{Method: method, Args: args}, conflictParams...)
	return nil
}

// Defer registers a closure to run against this context at commit time,
// once a final snapshot is known, instead of at the point it's declared
// (§4.6). Only meaningful on a Deferred context; on any other flavor it
// still runs, but immediately, at TXEnd.
func (c *Context) Defer(fn func(*Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferred = append(c.deferred, deferredClosure{fn: fn})
}

func (c *Context) abort(cause logservice.AbortCause, err error) {
	if !c.state.CompareAndSwap(uint32(ctxActive), uint32(ctxAborted)) {
		return
	}
	c.abortCause = cause
	c.abortErr = err
	c.rollback()
}

func (c *Context) logger() *slog.Logger {
	if c.rt != nil {
		return c.rt.logger()
	}
	return slog.Default()
}
