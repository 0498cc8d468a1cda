package engine

import (
	"github.com/samber/lo"
	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/fingerprint"
)

// ConflictSet is a mapping from Proxy to the set of opaque conflict
// parameters recorded against it, plus the hashed view the sequencer
// compares fingerprints against (§4.3). Conflict parameters must be
// comparable, the same restriction the teacher places on its map keys.
type ConflictSet struct {
	params map[*Proxy]map[any]struct{}
}

// NewConflictSet returns an empty ConflictSet.
func NewConflictSet() *ConflictSet {
	return &ConflictSet{params: make(map[*Proxy]map[any]struct{})}
}

// Record adds proxy and its conflict parameters. A nil parameter (or no
// parameters at all) records the ALL sentinel, meaning "conflicts with
// any update on this stream".
func (c *ConflictSet) Record(proxy *Proxy, params ...any) {
	set, ok := c.params[proxy]
	if !ok {
		set = make(map[any]struct{})
		c.params[proxy] = set
	}
	if len(params) == 0 {
		set[nil] = struct{}{}
		return
	}
	for _, p := range params {
		set[p] = struct{}{}
	}
}

// Proxies returns every proxy this set has recorded against.
func (c *ConflictSet) Proxies() []*Proxy {
	return lo.Keys(c.params)
}

// Params returns the raw conflict parameters recorded for proxy.
func (c *ConflictSet) Params(proxy *Proxy) []any {
	return lo.Keys(c.params[proxy])
}

// HashedView produces the Stream ID → Fingerprint Set mapping the
// sequencer uses to detect overlap (§4.3).
func (c *ConflictSet) HashedView() map[address.StreamID]fingerprint.Set {
	out := make(map[address.StreamID]fingerprint.Set)
	for proxy, params := range c.params {
		stream := proxy.Stream()
		set, ok := out[stream]
		if !ok {
			set = fingerprint.NewSet()
			out[stream] = set
		}
		for p := range params {
			set.Add(fingerprint.Of(p))
		}
	}
	return out
}

// Merge unions other's proxies/parameters into c, used when a nested
// transaction folds into its parent (§4.7).
func (c *ConflictSet) Merge(other *ConflictSet) {
	for proxy, params := range other.params {
		set, ok := c.params[proxy]
		if !ok {
			set = make(map[any]struct{}, len(params))
			c.params[proxy] = set
		}
		for p := range params {
			set[p] = struct{}{}
		}
	}
}

// IsEmpty reports whether nothing has been recorded.
func (c *ConflictSet) IsEmpty() bool {
	return len(c.params) == 0
}
