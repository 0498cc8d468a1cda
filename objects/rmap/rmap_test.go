package rmap_test

import (
	"testing"

	"github.com/slogtx/optx/objects/rmap"
	"github.com/stretchr/testify/require"
)

func TestMapPutGetRemove(t *testing.T) {
	m := rmap.New()

	res, ok := m.Apply("put", []any{"k1", "v1"})
	require.True(t, ok)
	require.Nil(t, res)

	res, ok = m.Apply("get", []any{"k1"})
	require.True(t, ok)
	require.Equal(t, "v1", res)

	res, ok = m.Apply("put", []any{"k1", "v2"})
	require.True(t, ok)
	require.Equal(t, "v1", res)

	res, ok = m.Apply("remove", []any{"k1"})
	require.True(t, ok)
	require.Equal(t, "v2", res)

	res, ok = m.Apply("get", []any{"k1"})
	require.True(t, ok)
	require.Nil(t, res)
}

func TestMapContainsKeyAndSize(t *testing.T) {
	m := rmap.New()
	m.Apply("put", []any{"k1", "v1"})
	m.Apply("put", []any{"k2", "v2"})

	ok, applied := m.Apply("containsKey", []any{"k1"})
	require.True(t, applied)
	require.Equal(t, true, ok)

	size, applied := m.Apply("size", nil)
	require.True(t, applied)
	require.Equal(t, 2, size)
}

func TestMapNoopHasNoUpcallResult(t *testing.T) {
	m := rmap.New()
	res, applied := m.Apply("noop", nil)
	require.False(t, applied)
	require.Nil(t, res)
}

func TestMapNewReturnsFreshInstance(t *testing.T) {
	m := rmap.New()
	m.Apply("put", []any{"k1", "v1"})

	fresh := m.New()
	_, ok := fresh.Apply("containsKey", []any{"k1"})
	require.False(t, ok.(bool))
}
