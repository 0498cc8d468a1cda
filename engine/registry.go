package engine

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/jtolds/gls"
)

// ThreadID identifies the logical "thread" §3/§5 reason about: in Go
// terms, one goroutine plus any helper goroutines it spawns through
// Registry.Go.
type ThreadID uint64

// goroutineID returns a stable identifier for the calling goroutine by
// parsing the header line of its own runtime stack trace. Go exposes no
// public goroutine-id API; this is the same stack-trace-parsing trick
// goroutine-local-storage libraries rely on internally.
func goroutineID() ThreadID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return ThreadID(id)
}

const glsThreadKey = "optx-thread-id"

// Registry is the process-wide mapping thread-id → stack of active
// Transactional Contexts (§3 Transaction Registry). The head of a
// thread's stack is its current context; the bottom is its root context.
// The engine itself pushes/pops a goroutine's own contexts directly
// (including around each of a Deferred context's closures, which run
// one after another on the committing goroutine, §4.6); Registry.Go is
// exposed for application
// code that spawns its own helper goroutine from inside a transaction
// body and still wants proxy.Access/.LogUpdate to resolve against the
// transaction that spawned it, the same propagation
// launix-de/memcp's storage package gets from wrapping gls.Go around
// its own worker fan-out.
type Registry struct {
	mgr    *gls.ContextManager
	mu     sync.RWMutex
	stacks map[ThreadID][]*Context
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mgr:    gls.NewContextManager(),
		stacks: make(map[ThreadID][]*Context),
	}
}

// ThreadID returns the identity the registry has resolved the calling
// goroutine to — its own goroutine id, or an inherited one if it was
// spawned via Registry.Go.
func (r *Registry) ThreadID() ThreadID {
	return r.threadID()
}

func (r *Registry) threadID() ThreadID {
	if v, ok := r.mgr.GetValue(glsThreadKey); ok {
		return v.(ThreadID)
	}
	return goroutineID()
}

// Go runs fn in a new goroutine that resolves to the same ThreadID as
// the calling goroutine, so it can continue to find the committing
// context via Current/Root.
func (r *Registry) Go(fn func()) {
	id := r.threadID()
	r.mgr.SetValues(gls.Values{glsThreadKey: id}, func() {
		gls.Go(fn)
	})
}

// Push makes ctx the current context on this thread's stack.
func (r *Registry) Push(ctx *Context) {
	id := r.threadID()
	r.mu.Lock()
	r.stacks[id] = append(r.stacks[id], ctx)
	r.mu.Unlock()
}

// Pop removes the current context from this thread's stack.
func (r *Registry) Pop() {
	id := r.threadID()
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.stacks[id]
	if len(stack) == 0 {
		return
	}
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(r.stacks, id)
	} else {
		r.stacks[id] = stack
	}
}

// Current returns the head of this thread's stack, or nil if none is
// active.
func (r *Registry) Current() *Context {
	id := r.threadID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	stack := r.stacks[id]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// Root returns the bottom of this thread's stack, or nil if none is
// active.
func (r *Registry) Root() *Context {
	id := r.threadID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	stack := r.stacks[id]
	if len(stack) == 0 {
		return nil
	}
	return stack[0]
}

// Depth returns the number of contexts active on this thread.
func (r *Registry) Depth() int {
	id := r.threadID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stacks[id])
}
