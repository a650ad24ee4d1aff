package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kavelund/accessgate/internal/database"
)

// Rules is the lifecycle manager for blacklist and whitelist records. It owns all
// writes; evaluators only ever read.
type Rules struct {
	store RuleStore
}

func NewRules(store RuleStore) *Rules {
	return &Rules{store: store}
}

type BlacklistOpts struct {
	Address   string     `json:"address"`
	CIDR      string     `json:"cidr"`
	Reason    string     `json:"reason"`
	AddedBy   string     `json:"added_by"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type WhitelistOpts struct {
	Address         string     `json:"address"`
	CIDR            string     `json:"cidr"`
	AddressPattern  string     `json:"address_pattern"`
	EndpointPattern string     `json:"endpoint_pattern"`
	ClientID        string     `json:"client_id"`
	Description     string     `json:"description"`
	Priority        int        `json:"priority"`
	AddedBy         string     `json:"added_by"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// normalizeCIDR upgrades a bare address to a /32 range so operators can paste
// either form.
func normalizeCIDR(cidr string) string {
	if cidr != "" && !strings.Contains(cidr, "/") {
		return cidr + "/32"
	}

	return cidr
}

// AddBlacklist validates and persists a new deny rule. Adding a second active entry
// for the same exact address fails with ErrAlreadyExists.
func (r *Rules) AddBlacklist(ctx context.Context, opts BlacklistOpts) (BlacklistEntry, error) {
	if opts.Address == "" && opts.CIDR == "" {
		return BlacklistEntry{}, ErrRuleTarget
	}

	if opts.Address != "" {
		if _, errAddr := ParseIPv4(opts.Address); errAddr != nil {
			return BlacklistEntry{}, errAddr
		}
	}

	cidr := normalizeCIDR(opts.CIDR)
	if cidr != "" {
		if _, _, errCIDR := ParseCIDR(cidr); errCIDR != nil {
			return BlacklistEntry{}, errCIDR
		}
	}

	now := time.Now()

	if opts.Address != "" {
		_, errExisting := r.store.ActiveBlacklistByAddress(ctx, opts.Address, now)
		if errExisting == nil {
			return BlacklistEntry{}, ErrAlreadyExists
		}

		if !errors.Is(errExisting, database.ErrNoResult) {
			return BlacklistEntry{}, errExisting
		}

		// An expired entry keeps its stored active flag until housekeeping runs, which
		// would trip the unique index on active addresses. Clear it now so the index
		// only rejects genuinely concurrent duplicates.
		if _, errExpire := r.store.DeactivateExpiredAddress(ctx, opts.Address, now); errExpire != nil {
			return BlacklistEntry{}, errExpire
		}
	}

	entry := BlacklistEntry{
		Address:   opts.Address,
		CIDR:      cidr,
		Reason:    opts.Reason,
		AddedBy:   opts.AddedBy,
		AddedAt:   now,
		ExpiresAt: opts.ExpiresAt,
		Active:    true,
	}

	if errSave := r.store.SaveBlacklist(ctx, &entry); errSave != nil {
		// The partial unique index on active addresses backs the duplicate check under
		// concurrent adds.
		if errors.Is(errSave, database.ErrDuplicate) {
			return BlacklistEntry{}, ErrAlreadyExists
		}

		return BlacklistEntry{}, errSave
	}

	slog.Info("Blacklist entry added",
		slog.Int64("blacklist_id", entry.BlacklistID),
		slog.String("address", entry.Address),
		slog.String("cidr", entry.CIDR))

	return entry, nil
}

// AddWhitelist validates and persists a new allow rule.
func (r *Rules) AddWhitelist(ctx context.Context, opts WhitelistOpts) (WhitelistEntry, error) {
	if opts.Priority < 0 {
		return WhitelistEntry{}, ErrPriority
	}

	if opts.Address != "" {
		if _, errAddr := ParseIPv4(opts.Address); errAddr != nil {
			return WhitelistEntry{}, errAddr
		}
	}

	cidr := normalizeCIDR(opts.CIDR)
	if cidr != "" {
		if _, _, errCIDR := ParseCIDR(cidr); errCIDR != nil {
			return WhitelistEntry{}, errCIDR
		}
	}

	entry := WhitelistEntry{
		Address:         opts.Address,
		CIDR:            cidr,
		AddressPattern:  opts.AddressPattern,
		EndpointPattern: opts.EndpointPattern,
		ClientID:        opts.ClientID,
		Description:     opts.Description,
		Priority:        opts.Priority,
		AddedBy:         opts.AddedBy,
		AddedAt:         time.Now(),
		ExpiresAt:       opts.ExpiresAt,
		Active:          true,
	}

	if errSave := r.store.SaveWhitelist(ctx, &entry); errSave != nil {
		return WhitelistEntry{}, errSave
	}

	slog.Info("Whitelist entry added",
		slog.Int64("whitelist_id", entry.WhitelistID),
		slog.String("endpoint_pattern", entry.EndpointPattern),
		slog.Int("priority", entry.Priority))

	return entry, nil
}

// Deactivate soft-removes a rule and returns the number of affected records. A miss
// is an affected count of zero, not an error, so the operation stays idempotent.
func (r *Rules) Deactivate(ctx context.Context, kind RuleKind, ruleID int64) (int64, error) {
	var (
		affected int64
		errDrop  error
	)

	switch kind {
	case RuleBlacklist:
		affected, errDrop = r.store.DeactivateBlacklist(ctx, ruleID)
	case RuleWhitelist:
		affected, errDrop = r.store.DeactivateWhitelist(ctx, ruleID)
	default:
		return 0, ErrRuleTarget
	}

	if errDrop != nil {
		if errors.Is(errDrop, database.ErrNoResult) {
			return 0, nil
		}

		return 0, errDrop
	}

	if affected > 0 {
		slog.Info("Rule deactivated", slog.String("kind", string(kind)), slog.Int64("rule_id", ruleID))
	}

	return affected, nil
}

// CleanupExpired batch-deactivates every rule whose expiry has passed, for the
// periodic housekeeping schedule.
func (r *Rules) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	affected, errCleanup := r.store.DeactivateExpired(ctx, now)
	if errCleanup != nil {
		return 0, errCleanup
	}

	if affected > 0 {
		slog.Info("Expired rules deactivated", slog.Int64("count", affected))
	}

	return affected, nil
}

func (r *Rules) Blacklists(ctx context.Context, query RuleQuery) ([]BlacklistEntry, error) {
	return r.store.Blacklists(ctx, query)
}

func (r *Rules) Whitelists(ctx context.Context, query RuleQuery) ([]WhitelistEntry, error) {
	return r.store.Whitelists(ctx, query)
}
