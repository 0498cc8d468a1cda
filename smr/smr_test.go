package smr_test

import (
	"testing"

	"github.com/slogtx/optx/address"
	"github.com/slogtx/optx/smr"
	"github.com/stretchr/testify/require"
)

func TestAppendPreservesPerStreamOrder(t *testing.T) {
	m := smr.NewMultiEntry()
	s := address.StreamIDFromString("a")

	i0 := m.Append(s, smr.Entry{Method: "put", Args: []any{"x", 1}})
	i1 := m.Append(s, smr.Entry{Method: "put", Args: []any{"y", 2}})

	require.Equal(t, 0, i0)
	require.Equal(t, 1, i1)
	require.Equal(t, []string{"put", "put"}, methods(m.Entries(s)))
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	parent := smr.NewMultiEntry()
	child := smr.NewMultiEntry()
	s := address.StreamIDFromString("a")

	parent.Append(s, smr.Entry{Method: "put", Args: []any{"x", 1}})
	child.Append(s, smr.Entry{Method: "put", Args: []any{"y", 2}})

	parent.Merge(child)

	entries := parent.Entries(s)
	require.Len(t, entries, 2)
	require.Equal(t, []any{"x", 1}, entries[0].Args)
	require.Equal(t, []any{"y", 2}, entries[1].Args)
}

func TestIsEmpty(t *testing.T) {
	m := smr.NewMultiEntry()
	require.True(t, m.IsEmpty())
	m.Append(address.StreamIDFromString("a"), smr.Entry{Method: "get"})
	require.False(t, m.IsEmpty())
}

func methods(entries []smr.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Method
	}
	return out
}
