package access

import (
	"context"
	"time"
)

// RuleQuery filters rule listings for the management API.
type RuleQuery struct {
	Limit   uint64 `schema:"limit"`
	Offset  uint64 `schema:"offset"`
	Deleted bool   `schema:"deleted"`
}

// LogQuery filters audit trail listings.
type LogQuery struct {
	Address string `schema:"address"`
	Result  string `schema:"result"`
	Limit   uint64 `schema:"limit"`
	Offset  uint64 `schema:"offset"`
}

// RuleStore is the persistence boundary for rule records. The evaluation path only
// ever reads; all writes go through the lifecycle manager. Implementations must not
// let rule writes block reads of unrelated rules.
type RuleStore interface {
	// ActiveBlacklistByAddress returns the exact-address entry that is active and
	// unexpired at now, or database.ErrNoResult.
	ActiveBlacklistByAddress(ctx context.Context, address string, now time.Time) (BlacklistEntry, error)
	ActiveBlacklistRanges(ctx context.Context, now time.Time) ([]BlacklistEntry, error)
	ActiveWhitelist(ctx context.Context, now time.Time) ([]WhitelistEntry, error)

	// DeactivateExpiredAddress clears expired exact-address entries for one address.
	// The stored active flag lags computed expiry until housekeeping runs, and the
	// unique index on active addresses keys off the flag.
	DeactivateExpiredAddress(ctx context.Context, address string, now time.Time) (int64, error)

	SaveBlacklist(ctx context.Context, entry *BlacklistEntry) error
	SaveWhitelist(ctx context.Context, entry *WhitelistEntry) error
	DeactivateBlacklist(ctx context.Context, blacklistID int64) (int64, error)
	DeactivateWhitelist(ctx context.Context, whitelistID int64) (int64, error)
	// DeactivateExpired soft-deactivates every entry whose expiry has passed. Rows are
	// never deleted so audit references stay resolvable.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)

	Blacklists(ctx context.Context, query RuleQuery) ([]BlacklistEntry, error)
	Whitelists(ctx context.Context, query RuleQuery) ([]WhitelistEntry, error)

	Sources(ctx context.Context) ([]Source, error)
	GetSource(ctx context.Context, sourceID int64) (Source, error)
	SaveSource(ctx context.Context, source *Source) error
	DeleteSource(ctx context.Context, sourceID int64) error
	// ReplaceSourceEntries atomically swaps the blacklist range entries mirrored from
	// a remote source for a fresh set.
	ReplaceSourceEntries(ctx context.Context, source Source, ranges []string) error
}

// AuditStore is the append-only sink for access decisions. There is deliberately no
// update or delete operation.
type AuditStore interface {
	RecordAccess(ctx context.Context, entry *AccessLogEntry) error
	AccessLogs(ctx context.Context, query LogQuery) ([]AccessLogEntry, error)
}
