package address_test

import (
	"testing"

	"github.com/slogtx/optx/address"
	"github.com/stretchr/testify/require"
)

func TestSentinelsAreNotReal(t *testing.T) {
	for _, a := range []address.Address{
		address.NeverRead,
		address.NoWriteAddress,
		address.FoldedAddress,
		address.MaxAddress,
	} {
		require.False(t, a.IsReal(), "%s should not be a real address", a)
	}
}

func TestRealAddressIsReal(t *testing.T) {
	require.True(t, address.Address(0).IsReal())
	require.True(t, address.Address(42).IsReal())
}

func TestStreamIDFromStringIsDeterministic(t *testing.T) {
	a := address.StreamIDFromString("balances")
	b := address.StreamIDFromString("balances")
	require.Equal(t, a, b)

	c := address.StreamIDFromString("other")
	require.NotEqual(t, a, c)
}

func TestNewStreamIDIsRandom(t *testing.T) {
	a := address.NewStreamID()
	b := address.NewStreamID()
	require.NotEqual(t, a, b)
}
