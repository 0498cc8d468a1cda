package engine_test

import "github.com/slogtx/optx/engine"

// counter is a minimal engine.Object + engine.Cloner used across the
// engine package's tests: "add" accumulates, "get" reads, "set" is a
// blind write with no useful upcall.
type counter struct {
	n int
}

func newCounter() *counter { return &counter{} }

func (c *counter) Apply(method string, args []any) (any, bool) {
	switch method {
	case "add":
		prev := c.n
		c.n += args[0].(int)
		return prev, true
	case "set":
		prev := c.n
		c.n = args[0].(int)
		return prev, true
	case "get":
		return c.n, true
	default:
		return nil, false
	}
}

func (c *counter) New() engine.Object { return newCounter() }

var (
	_ engine.Object = (*counter)(nil)
	_ engine.Cloner = (*counter)(nil)
)
