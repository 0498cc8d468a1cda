package rmap

import (
	"context"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/engine"
	"github.com/slogtx/optx/smr"
)

// Handle is a typed view over a replicated Map bound to one stream.
type Handle[K comparable, V any] struct {
	proxy *engine.Proxy
}

// Open binds (or reuses) the Map on stream within rt and returns a
// typed Handle over it.
func Open[K comparable, V any](rt *engine.Runtime, stream address.StreamID) *Handle[K, V] {
	return &Handle[K, V]{proxy: rt.Open(stream, New())}
}

// Get returns the value stored at key, conflicting with any concurrent
// write to that same key.
func (h *Handle[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	res, err := h.proxy.Access(ctx, "get", []any{key}, key)
	if err != nil {
		return zero, false, err
	}
	if res == nil {
		return zero, false, nil
	}
	return res.(V), true, nil
}

// DeferredGet behaves like Get but, inside a DEFERRED context, defers
// the actual read to commit time against a fresh snapshot instead of
// now (§4.6 NO_CONFLICT access) — useful for a read-mostly pipeline that
// only cares about a value as of just before the transaction lands. fn
// receives the eventual (value, found) pair. Requires an active
// transaction.
func (h *Handle[K, V]) DeferredGet(ctx context.Context, key K, fn func(val V, found bool)) error {
	return h.proxy.DeferredAccess(ctx, "get", []any{key}, func(result any, err error) {
		if err != nil {
			return
		}
		var zero V
		if result == nil {
			fn(zero, false)
			return
		}
		fn(result.(V), true)
	})
}

// ContainsKey reports whether key is present, without reading its value.
func (h *Handle[K, V]) ContainsKey(ctx context.Context, key K) (bool, error) {
	res, err := h.proxy.Access(ctx, "containsKey", []any{key}, key)
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// Size returns the number of entries, conflicting with every write to
// the map.
func (h *Handle[K, V]) Size(ctx context.Context) (int, error) {
	res, err := h.proxy.Access(ctx, "size", nil)
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// Put stores val at key and returns whatever was previously there.
func (h *Handle[K, V]) Put(ctx context.Context, key K, val V) (V, bool, error) {
	var zero V
	undoFn := func(result any, hasResult bool) *smr.UndoRecord {
		if hasResult && result != nil {
			return &smr.UndoRecord{Method: "put", Args: []any{key, result}}
		}
		return &smr.UndoRecord{Method: "remove", Args: []any{key}}
	}
	res, err := h.proxy.LogUpdate(ctx, "put", []any{key, val}, undoFn, key)
	if err != nil {
		return zero, false, err
	}
	if res == nil {
		return zero, false, nil
	}
	return res.(V), true, nil
}

// Remove deletes key and returns whatever was previously there.
func (h *Handle[K, V]) Remove(ctx context.Context, key K) (V, bool, error) {
	var zero V
	undoFn := func(result any, hasResult bool) *smr.UndoRecord {
		if hasResult && result != nil {
			return &smr.UndoRecord{Method: "put", Args: []any{key, result}}
		}
		return &smr.UndoRecord{Method: "noop", Args: nil}
	}
	res, err := h.proxy.LogUpdate(ctx, "remove", []any{key}, undoFn, key)
	if err != nil {
		return zero, false, err
	}
	if res == nil {
		return zero, false, nil
	}
	return res.(V), true, nil
}
