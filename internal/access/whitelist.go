package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/kavelund/accessgate/pkg/log"
)

// MatchResult is either a matched rule or "no match".
type MatchResult struct {
	Matched bool
	Entry   WhitelistEntry
}

// WhitelistChecker selects the highest-precedence whitelist rule matching an
// (address, endpoint, client) triple.
type WhitelistChecker struct {
	store   RuleStore
	timeout time.Duration
}

func NewWhitelistChecker(store RuleStore, timeout time.Duration) *WhitelistChecker {
	return &WhitelistChecker{store: store, timeout: timeout}
}

// Evaluate returns the surviving candidate with the lowest priority value, ties
// broken by lowest rule id so the outcome is deterministic. Store failures and
// timeouts degrade to NoMatch: on whitelist protected endpoints that fails toward
// denial, the opposite bias of the blacklist check.
func (c *WhitelistChecker) Evaluate(ctx context.Context, address string, endpoint string, clientID string) MatchResult {
	now := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	entries, errEntries := c.store.ActiveWhitelist(ctx, now)
	if errEntries != nil {
		slog.Warn("Whitelist fetch degraded to no-match", log.ErrAttr(errEntries))

		return MatchResult{}
	}

	var best *WhitelistEntry

	for i := range entries {
		entry := entries[i]
		if !entry.EffectiveActive(now) || !entry.Matches(address, endpoint, clientID) {
			continue
		}

		if best == nil ||
			entry.Priority < best.Priority ||
			(entry.Priority == best.Priority && entry.WhitelistID < best.WhitelistID) {
			best = &entries[i]
		}
	}

	if best == nil {
		return MatchResult{}
	}

	return MatchResult{Matched: true, Entry: *best}
}
