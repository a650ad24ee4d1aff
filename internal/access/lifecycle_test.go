package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/kavelund/accessgate/internal/access"
	"github.com/stretchr/testify/require"
)

func TestAddBlacklistValidation(t *testing.T) {
	t.Parallel()

	rules := access.NewRules(newMemStore())

	_, errEmpty := rules.AddBlacklist(context.Background(), access.BlacklistOpts{})
	require.ErrorIs(t, errEmpty, access.ErrRuleTarget)

	_, errBadAddr := rules.AddBlacklist(context.Background(), access.BlacklistOpts{Address: "nope"})
	require.ErrorIs(t, errBadAddr, access.ErrInvalidAddress)

	_, errBadCIDR := rules.AddBlacklist(context.Background(), access.BlacklistOpts{CIDR: "10.0.0.0/40"})
	require.ErrorIs(t, errBadCIDR, access.ErrInvalidAddress)

	entry, errAdd := rules.AddBlacklist(context.Background(), access.BlacklistOpts{
		Address: "10.1.2.3", Reason: "abuse", AddedBy: "ops",
	})
	require.NoError(t, errAdd)
	require.NotZero(t, entry.BlacklistID)
	require.True(t, entry.Active)
}

func TestAddBlacklistBareAddressAsCIDR(t *testing.T) {
	t.Parallel()

	rules := access.NewRules(newMemStore())

	entry, errAdd := rules.AddBlacklist(context.Background(), access.BlacklistOpts{CIDR: "10.1.2.3"})
	require.NoError(t, errAdd)
	require.Equal(t, "10.1.2.3/32", entry.CIDR)
}

func TestAddBlacklistDuplicate(t *testing.T) {
	t.Parallel()

	rules := access.NewRules(newMemStore())

	_, errFirst := rules.AddBlacklist(context.Background(), access.BlacklistOpts{Address: "10.1.2.3"})
	require.NoError(t, errFirst)

	_, errSecond := rules.AddBlacklist(context.Background(), access.BlacklistOpts{Address: "10.1.2.3"})
	require.ErrorIs(t, errSecond, access.ErrAlreadyExists)
}

func TestAddBlacklistAfterExpiry(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	rules := access.NewRules(store)

	expired := time.Now().Add(-time.Hour)
	first, errFirst := rules.AddBlacklist(context.Background(), access.BlacklistOpts{
		Address: "10.1.2.3", ExpiresAt: &expired,
	})
	require.NoError(t, errFirst)

	// The expired entry no longer counts as an active duplicate, even though its
	// stored active flag has not been cleaned up yet.
	second, errSecond := rules.AddBlacklist(context.Background(), access.BlacklistOpts{Address: "10.1.2.3"})
	require.NoError(t, errSecond)

	// The stale row was deactivated on the way, so the active-address constraint
	// holds a single entry.
	all, errAll := rules.Blacklists(context.Background(), access.RuleQuery{Deleted: true})
	require.NoError(t, errAll)
	require.Len(t, all, 2)

	for _, entry := range all {
		switch entry.BlacklistID {
		case first.BlacklistID:
			require.False(t, entry.Active)
		case second.BlacklistID:
			require.True(t, entry.Active)
		}
	}
}

func TestAddWhitelistValidation(t *testing.T) {
	t.Parallel()

	rules := access.NewRules(newMemStore())

	_, errPriority := rules.AddWhitelist(context.Background(), access.WhitelistOpts{Priority: -1})
	require.ErrorIs(t, errPriority, access.ErrPriority)

	_, errBadAddr := rules.AddWhitelist(context.Background(), access.WhitelistOpts{Address: "nope"})
	require.ErrorIs(t, errBadAddr, access.ErrInvalidAddress)

	entry, errAdd := rules.AddWhitelist(context.Background(), access.WhitelistOpts{
		EndpointPattern: "/health*", Priority: 5, AddedBy: "ops",
	})
	require.NoError(t, errAdd)
	require.NotZero(t, entry.WhitelistID)
}

func TestDeactivateIdempotent(t *testing.T) {
	t.Parallel()

	rules := access.NewRules(newMemStore())

	entry, errAdd := rules.AddBlacklist(context.Background(), access.BlacklistOpts{Address: "10.1.2.3"})
	require.NoError(t, errAdd)

	affected, errFirst := rules.Deactivate(context.Background(), access.RuleBlacklist, entry.BlacklistID)
	require.NoError(t, errFirst)
	require.Equal(t, int64(1), affected)

	again, errSecond := rules.Deactivate(context.Background(), access.RuleBlacklist, entry.BlacklistID)
	require.NoError(t, errSecond)
	require.Equal(t, int64(0), again)

	missing, errMissing := rules.Deactivate(context.Background(), access.RuleWhitelist, 9999)
	require.NoError(t, errMissing)
	require.Equal(t, int64(0), missing)

	_, errKind := rules.Deactivate(context.Background(), access.RuleKind("bogus"), 1)
	require.ErrorIs(t, errKind, access.ErrRuleTarget)
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	rules := access.NewRules(store)

	expired := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	_, errOld := rules.AddBlacklist(context.Background(), access.BlacklistOpts{Address: "10.1.2.3", ExpiresAt: &expired})
	require.NoError(t, errOld)

	_, errCurrent := rules.AddBlacklist(context.Background(), access.BlacklistOpts{Address: "10.1.2.4", ExpiresAt: &future})
	require.NoError(t, errCurrent)

	_, errForever := rules.AddWhitelist(context.Background(), access.WhitelistOpts{Priority: 1})
	require.NoError(t, errForever)

	affected, errCleanup := rules.CleanupExpired(context.Background(), time.Now())
	require.NoError(t, errCleanup)
	require.Equal(t, int64(1), affected)

	// Nothing is deleted, the expired entry survives as an inactive record.
	all, errAll := rules.Blacklists(context.Background(), access.RuleQuery{Deleted: true})
	require.NoError(t, errAll)
	require.Len(t, all, 2)

	active, errActive := rules.Blacklists(context.Background(), access.RuleQuery{})
	require.NoError(t, errActive)
	require.Len(t, active, 1)
	require.Equal(t, "10.1.2.4", active[0].Address)
}
