package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/logservice"
)

// Runtime wires a Registry of running transactions to a Sequencer/Log
// pair and the set of Object Proxies built against them. It is the
// top-level handle an application holds (§3, §5 Client Runtime).
type Runtime struct {
	registry  *Registry
	sequencer logservice.Sequencer
	log       logservice.Log
	cfg       config

	mu      sync.RWMutex
	proxies map[address.StreamID]*Proxy
}

// NewRuntime returns a Runtime backed by seq and log.
func NewRuntime(seq logservice.Sequencer, log logservice.Log, opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runtime{
		registry:  NewRegistry(),
		sequencer: seq,
		log:       log,
		cfg:       cfg,
		proxies:   make(map[address.StreamID]*Proxy),
	}
}

func (rt *Runtime) logger() *slog.Logger { return rt.cfg.logger }

// EnableTxLogging toggles whether committed transactions are mirrored
// onto the configured transaction stream.
func (rt *Runtime) EnableTxLogging(enabled bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cfg.txLogging = enabled
}

// Open returns the Proxy bound to stream, creating its Version-Locked
// Object (materialized from a fresh instance of the same type as
// initial, via its Cloner, or from initial itself when it does not
// implement Cloner) on first use. Subsequent Open calls for the same stream
// return the same Proxy regardless of what initial is passed.
func (rt *Runtime) Open(stream address.StreamID, initial Object) *Proxy {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if p, ok := rt.proxies[stream]; ok {
		return p
	}
	vlo := newVersionLockedObject(stream, rt.log, initial, rt.cfg.logger)
	p := newProxy(stream, vlo, rt)
	rt.proxies[stream] = p
	return p
}

func (rt *Runtime) proxyFor(stream address.StreamID) (*Proxy, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	p, ok := rt.proxies[stream]
	return p, ok
}

// TXBegin opens a new Transactional Context on the calling thread,
// nesting under whatever context (if any) is already active on it
// (§4.7). flavor selects its commit discipline; if explicitSnapshot is
// address.NeverRead, a nested context inherits its parent's snapshot and
// a root context reads as of the log's current tail.
func (rt *Runtime) TXBegin(ctx context.Context, flavor Flavor, explicitSnapshot address.Address) (*Context, error) {
	parent := rt.registry.Current()

	snapshot := explicitSnapshot
	if snapshot == address.NeverRead && parent != nil {
		snapshot = parent.snapshot
	} else if snapshot == address.NeverRead {
		tail, err := rt.currentTail(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("engine: begin transaction: %w", err)
		}
		snapshot = tail
	}

	tc := newContext(rt, flavor, parent, snapshot)
	rt.registry.Push(tc)
	return tc, nil
}

// oneShot runs fn inside a fresh implicit OPTIMISTIC transaction,
// committing on success and aborting on error — the fallback Proxy
// methods use when no Transactional Context is active on the calling
// thread (§4.4 one-shot note).
func (rt *Runtime) oneShot(ctx context.Context, fn func(*Context) (any, error)) (any, error) {
	tc, err := rt.TXBegin(ctx, Optimistic, address.NeverRead)
	if err != nil {
		return nil, err
	}
	defer rt.registry.Pop()

	result, ferr := fn(tc)
	if ferr != nil {
		tc.Abort()
		return nil, ferr
	}
	if _, err := tc.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// currentTail queries the sequencer's current tail without allocating
// anything (count 0), used both to pick TXBegin's read snapshot and to
// re-acquire a DEFERRED commit's commit-time snapshot (§4.6 step 3) over
// the given affected streams.
func (rt *Runtime) currentTail(ctx context.Context, affected []address.StreamID) (address.Address, error) {
	tok, err := rt.sequencer.NextToken(ctx, affected, 0)
	if err != nil {
		return 0, err
	}
	if tok.Token == 0 {
		return address.NeverRead, nil
	}
	return tok.Token - 1, nil
}

// TXEnd commits the current context on the calling thread and pops it
// from the registry, whatever the outcome.
func (rt *Runtime) TXEnd(ctx context.Context) (address.Address, error) {
	tc := rt.registry.Current()
	if tc == nil {
		return 0, fmt.Errorf("engine: no transaction active on this thread")
	}
	defer rt.registry.Pop()

	addr, err := tc.Commit(ctx)
	if err == nil && !tc.IsNested() && tc.writeSet != nil && !tc.writeSet.IsEmpty() && rt.cfg.txLogging {
		rt.mirrorTxLog(ctx, tc, addr)
	}
	return addr, err
}

// TXAbort aborts the current context on the calling thread and pops it
// from the registry.
func (rt *Runtime) TXAbort() {
	tc := rt.registry.Current()
	if tc == nil {
		return
	}
	defer rt.registry.Pop()
	tc.Abort()
}

// mirrorTxLog appends a record of a committed root transaction's
// streams to the configured transaction stream, best-effort: failure to
// mirror never fails the transaction that already committed. It goes
// through the sequencer for its own fresh address rather than reusing
// addr, which already belongs to the commit it is describing.
func (rt *Runtime) mirrorTxLog(ctx context.Context, tc *Context, addr address.Address) {
	payload := &logservice.PersistedEntry{
		TxID: tc.id,
		Streams: map[address.StreamID][]logservice.PersistedOp{
			rt.cfg.txStream: {{Method: "commit", Args: []any{tc.flavor.String(), addr}}},
		},
	}
	streams := []address.StreamID{rt.cfg.txStream}
	resolution := logservice.TxResolutionInfo{TxID: tc.id, Snapshot: address.NeverRead}
	if _, err := rt.sequencer.Append(ctx, streams, payload, resolution); err != nil {
		rt.logger().Debug("could not mirror transaction to tx-logging stream", "tx", tc.id, "error", err)
	}
}

// RunMaintenance reclaims overlays left installed by threads that
// crashed or hung mid-transaction, adapted from the teacher's gc.go/
// deadlock.go sweep. It is safe to call concurrently with live
// transactions; it only acts on streams whose overlay has been
// installed longer than cfg.staleOverlayTTL. Proxies are swept
// concurrently (bounded, since a registry can hold many of them and
// each sweep only takes its own VLO's lock, never another's), with no
// ordering requirement between them.
func (rt *Runtime) RunMaintenance() {
	rt.mu.RLock()
	proxies := make([]*Proxy, 0, len(rt.proxies))
	for _, p := range rt.proxies {
		proxies = append(proxies, p)
	}
	rt.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, p := range proxies {
		p := p
		g.Go(func() error {
			p.vlo.evictStaleOverlay(rt.cfg.staleOverlayTTL, rt.logger())
			return nil
		})
	}
	_ = g.Wait()
}

// StartMaintenance runs RunMaintenance on cfg.gcInterval until ctx is
// canceled.
func (rt *Runtime) StartMaintenance(ctx context.Context) {
	ticker := time.NewTicker(rt.cfg.gcInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.RunMaintenance()
			}
		}
	}()
}
