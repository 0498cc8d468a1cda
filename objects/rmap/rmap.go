// Package rmap is a replicated map Object: the supplemented user object
// class that exercises the engine package end to end, the way the
// teacher's MVCCMap itself is a map keyed by a comparable type.
package rmap

import "github.com/slogtx/optx/engine"

// Map is the untyped Object implementation; Handle is the generic,
// ergonomic wrapper application code actually uses.
type Map struct {
	data map[any]any
}

// New returns an empty Map.
func New() *Map { return &Map{data: make(map[any]any)} }

var (
	_ engine.Object            = (*Map)(nil)
	_ engine.Cloner            = (*Map)(nil)
	_ engine.ConflictExtractor = (*Map)(nil)
)

// Apply implements engine.Object.
func (m *Map) Apply(method string, args []any) (any, bool) {
	switch method {
	case "put":
		key, val := args[0], args[1]
		prev, existed := m.data[key]
		m.data[key] = val
		if existed {
			return prev, true
		}
		return nil, true
	case "get":
		val, ok := m.data[args[0]]
		if !ok {
			return nil, true
		}
		return val, true
	case "remove":
		key := args[0]
		prev, existed := m.data[key]
		delete(m.data, key)
		if existed {
			return prev, true
		}
		return nil, true
	case "containsKey":
		_, ok := m.data[args[0]]
		return ok, true
	case "size":
		return len(m.data), true
	case "noop":
		return nil, false
	default:
		return nil, false
	}
}

// New implements engine.Cloner.
func (m *Map) New() engine.Object { return New() }

// ConflictParams implements engine.ConflictExtractor: put and remove
// touch exactly the key they mutate. size has no single key to report —
// it conflicts with any write — so it returns nil, which the precise
// pass treats as "can't prove overlap" and leaves to the optimistic
// read-set check that already covers it.
func (m *Map) ConflictParams(method string, args []any) []any {
	switch method {
	case "put", "remove":
		if len(args) == 0 {
			return nil
		}
		return []any{args[0]}
	default:
		return nil
	}
}
