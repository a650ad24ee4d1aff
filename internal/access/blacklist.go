package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kavelund/accessgate/internal/database"
	"github.com/kavelund/accessgate/pkg/log"
)

// BlacklistChecker decides whether an address is denied outright. Exact-address
// entries take precedence over range entries; an exact miss always falls through to
// the range check.
type BlacklistChecker struct {
	store   RuleStore
	timeout time.Duration
}

func NewBlacklistChecker(store RuleStore, timeout time.Duration) *BlacklistChecker {
	return &BlacklistChecker{store: store, timeout: timeout}
}

// IsBlocked returns the matched entry when the address is blacklisted. Store
// failures and timeouts degrade to "not blocked": blacklist checking fails open so a
// rule store outage cannot take down every endpoint it fronts.
func (c *BlacklistChecker) IsBlocked(ctx context.Context, address string) (bool, *BlacklistEntry) {
	now := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	exact, errExact := c.store.ActiveBlacklistByAddress(ctx, address, now)
	if errExact == nil {
		if exact.EffectiveActive(now) {
			return true, &exact
		}
	} else if !errors.Is(errExact, database.ErrNoResult) {
		slog.Warn("Blacklist lookup degraded to miss", slog.String("address", address), log.ErrAttr(errExact))

		return false, nil
	}

	ranges, errRanges := c.store.ActiveBlacklistRanges(ctx, now)
	if errRanges != nil {
		slog.Warn("Blacklist range fetch degraded to miss", log.ErrAttr(errRanges))

		return false, nil
	}

	for i := range ranges {
		entry := ranges[i]
		if entry.CIDR == "" || !entry.EffectiveActive(now) {
			continue
		}

		contained, errMatch := CIDRContains(address, entry.CIDR)
		if errMatch != nil {
			// A malformed stored range must not abort the whole decision.
			continue
		}

		if contained {
			return true, &ranges[i]
		}
	}

	return false, nil
}
