package fingerprint_test

import (
	"testing"

	"github.com/slogtx/optx/fingerprint"
	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministic(t *testing.T) {
	a := fingerprint.Of("k1")
	b := fingerprint.Of("k1")
	require.Equal(t, a, b)

	c := fingerprint.Of("k2")
	require.NotEqual(t, a, c)
}

func TestNilIsAll(t *testing.T) {
	require.True(t, fingerprint.Of(nil).IsAll())
	require.True(t, fingerprint.All.IsAll())
	require.False(t, fingerprint.Of("k1").IsAll())
}

func TestSetIntersects(t *testing.T) {
	a := fingerprint.NewSet(fingerprint.Of("k1"), fingerprint.Of("k2"))
	b := fingerprint.NewSet(fingerprint.Of("k2"), fingerprint.Of("k3"))
	c := fingerprint.NewSet(fingerprint.Of("k4"))

	require.True(t, a.Intersects(b))
	require.False(t, a.Intersects(c))
}

func TestSetIntersectsAll(t *testing.T) {
	a := fingerprint.NewSet(fingerprint.All)
	b := fingerprint.NewSet(fingerprint.Of("k1"))

	require.True(t, a.Intersects(b))
	require.True(t, b.Intersects(a))
}
