package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/kavelund/accessgate/internal/access"
	"github.com/stretchr/testify/require"
)

func TestBlacklistExactBeforeRange(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.SaveBlacklist(context.Background(), &access.BlacklistEntry{
		Address: "10.1.2.3", Reason: "abuse", Active: true,
	}))
	require.NoError(t, store.SaveBlacklist(context.Background(), &access.BlacklistEntry{
		CIDR: "10.0.0.0/8", Reason: "datacenter", Active: true,
	}))

	checker := access.NewBlacklistChecker(store, time.Second)

	blocked, entry := checker.IsBlocked(context.Background(), "10.1.2.3")
	require.True(t, blocked)
	require.NotNil(t, entry)
	require.Equal(t, "abuse", entry.Reason)

	// No exact entry for this address, the covering range still blocks it.
	blockedRange, rangeEntry := checker.IsBlocked(context.Background(), "10.200.0.1")
	require.True(t, blockedRange)
	require.NotNil(t, rangeEntry)
	require.Equal(t, "datacenter", rangeEntry.Reason)

	clean, cleanEntry := checker.IsBlocked(context.Background(), "11.1.2.3")
	require.False(t, clean)
	require.Nil(t, cleanEntry)
}

func TestBlacklistExpiredExactFallsThroughToRange(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	expired := time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveBlacklist(context.Background(), &access.BlacklistEntry{
		Address: "10.1.2.3", Reason: "old ban", ExpiresAt: &expired, Active: true,
	}))
	require.NoError(t, store.SaveBlacklist(context.Background(), &access.BlacklistEntry{
		CIDR: "10.0.0.0/8", Reason: "datacenter", Active: true,
	}))

	checker := access.NewBlacklistChecker(store, time.Second)

	blocked, entry := checker.IsBlocked(context.Background(), "10.1.2.3")
	require.True(t, blocked)
	require.NotNil(t, entry)
	require.Equal(t, "datacenter", entry.Reason)
}

func TestBlacklistMalformedRangeSkipped(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.SaveBlacklist(context.Background(), &access.BlacklistEntry{
		CIDR: "999.0.0.0/8", Reason: "broken", Active: true,
	}))
	require.NoError(t, store.SaveBlacklist(context.Background(), &access.BlacklistEntry{
		CIDR: "172.16.0.0/12", Reason: "internal", Active: true,
	}))

	checker := access.NewBlacklistChecker(store, time.Second)

	blocked, entry := checker.IsBlocked(context.Background(), "172.16.5.5")
	require.True(t, blocked)
	require.NotNil(t, entry)
	require.Equal(t, "internal", entry.Reason)
}

func TestBlacklistStoreFailureFailsOpen(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.SaveBlacklist(context.Background(), &access.BlacklistEntry{
		Address: "10.1.2.3", Reason: "abuse", Active: true,
	}))

	store.failReads = true

	checker := access.NewBlacklistChecker(store, time.Second)

	blocked, entry := checker.IsBlocked(context.Background(), "10.1.2.3")
	require.False(t, blocked)
	require.Nil(t, entry)
}
