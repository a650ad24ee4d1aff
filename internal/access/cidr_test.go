package access_test

import (
	"testing"

	"github.com/kavelund/accessgate/internal/access"
	"github.com/stretchr/testify/require"
)

func TestCIDRContains(t *testing.T) {
	t.Parallel()

	contained, errMatch := access.CIDRContains("10.5.0.7", "10.0.0.0/8")
	require.NoError(t, errMatch)
	require.True(t, contained)

	outside, errOutside := access.CIDRContains("11.5.0.7", "10.0.0.0/8")
	require.NoError(t, errOutside)
	require.False(t, outside)

	exact, errExact := access.CIDRContains("192.168.1.50", "192.168.1.50/32")
	require.NoError(t, errExact)
	require.True(t, exact)

	neighbour, errNeighbour := access.CIDRContains("192.168.1.51", "192.168.1.50/32")
	require.NoError(t, errNeighbour)
	require.False(t, neighbour)

	// A zero prefix matches everything.
	everything, errEverything := access.CIDRContains("203.0.113.9", "0.0.0.0/0")
	require.NoError(t, errEverything)
	require.True(t, everything)

	// Non-canonical network expressions are masked before comparison.
	masked, errMasked := access.CIDRContains("10.99.1.2", "10.5.0.7/8")
	require.NoError(t, errMasked)
	require.True(t, masked)
}

func TestCIDRContainsInvalid(t *testing.T) {
	t.Parallel()

	_, errAddr := access.CIDRContains("not-an-ip", "10.0.0.0/8")
	require.ErrorIs(t, errAddr, access.ErrInvalidAddress)

	_, errRange := access.CIDRContains("10.0.0.1", "10.0.0.0")
	require.ErrorIs(t, errRange, access.ErrInvalidAddress)

	_, errV6 := access.CIDRContains("::1", "10.0.0.0/8")
	require.ErrorIs(t, errV6, access.ErrInvalidAddress)
}

func TestParseIPv4(t *testing.T) {
	t.Parallel()

	value, errParse := access.ParseIPv4("10.0.0.1")
	require.NoError(t, errParse)
	require.Equal(t, uint32(0x0A000001), value)

	_, errBad := access.ParseIPv4("256.1.1.1")
	require.ErrorIs(t, errBad, access.ErrInvalidAddress)

	_, errEmpty := access.ParseIPv4("")
	require.ErrorIs(t, errEmpty, access.ErrInvalidAddress)
}

func TestValidExpr(t *testing.T) {
	t.Parallel()

	require.True(t, access.ValidExpr("10.0.0.1"))
	require.True(t, access.ValidExpr("10.0.0.0/8"))
	require.True(t, access.ValidExpr("0.0.0.0/0"))
	require.False(t, access.ValidExpr("10.0.0.0/33"))
	require.False(t, access.ValidExpr("300.0.0.1"))
	require.False(t, access.ValidExpr("10.0.0.0/8 extra"))
	require.False(t, access.ValidExpr(""))
}
