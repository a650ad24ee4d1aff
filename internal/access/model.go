package access

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ryanuber/go-glob"
)

var (
	// ErrInvalidAddress is returned when an IP or CIDR expression fails syntactic validation.
	ErrInvalidAddress = errors.New("invalid ipv4 address or cidr range")
	// ErrAlreadyExists is returned when adding a duplicate active blacklist entry for an address.
	ErrAlreadyExists = errors.New("active blacklist entry already exists for address")
	// ErrRuleTarget is returned when a blacklist entry defines neither an address nor a range.
	ErrRuleTarget = errors.New("entry must define an address or a cidr range")
	ErrPriority   = errors.New("priority must not be negative")
	ErrSourceName = errors.New("source name cannot be empty")
	ErrSourceURL  = errors.New("source url is not valid")
)

// RuleKind discriminates which rule collection a rule reference points into.
type RuleKind string

const (
	RuleBlacklist RuleKind = "blacklist"
	RuleWhitelist RuleKind = "whitelist"
)

// Result is the terminal outcome of a single access evaluation.
type Result string

const (
	Allowed               Result = "ALLOWED"
	BlockedBlacklist      Result = "BLOCKED_BLACKLIST"
	BlockedNotWhitelisted Result = "BLOCKED_NOT_WHITELISTED"
	BlockedRateLimited    Result = "BLOCKED_RATE_LIMITED"
	SkippedDisabled       Result = "SKIPPED_DISABLED"
)

// BlacklistEntry denies access for a single address or a CIDR range. At least one
// of Address/CIDR is always set.
type BlacklistEntry struct {
	BlacklistID int64      `json:"blacklist_id"`
	Address     string     `json:"address"`
	CIDR        string     `json:"cidr"`
	Reason      string     `json:"reason"`
	SourceID    *int64     `json:"source_id,omitempty"`
	AddedBy     string     `json:"added_by"`
	AddedAt     time.Time  `json:"added_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"`
}

// EffectiveActive reports whether the entry applies at the given instant. Expiry is
// computed, never stored, so a stale Active flag cannot resurrect an expired rule.
func (e BlacklistEntry) EffectiveActive(now time.Time) bool {
	return e.Active && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

// WhitelistEntry permits access for requests matching its address, endpoint and
// client criteria. Absent criteria match anything. Lower Priority wins.
type WhitelistEntry struct {
	WhitelistID     int64      `json:"whitelist_id"`
	Address         string     `json:"address"`
	CIDR            string     `json:"cidr"`
	AddressPattern  string     `json:"address_pattern"`
	EndpointPattern string     `json:"endpoint_pattern"`
	ClientID        string     `json:"client_id"`
	Description     string     `json:"description"`
	Priority        int        `json:"priority"`
	AddedBy         string     `json:"added_by"`
	AddedAt         time.Time  `json:"added_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Active          bool       `json:"active"`
}

func (e WhitelistEntry) EffectiveActive(now time.Time) bool {
	return e.Active && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

func (e WhitelistEntry) matchesAddress(address string) bool {
	if e.Address == "" && e.CIDR == "" && e.AddressPattern == "" {
		return true
	}

	if e.Address != "" && e.Address == address {
		return true
	}

	if e.CIDR != "" {
		// Malformed stored ranges are treated as a non-match so one bad rule
		// cannot poison the whole evaluation.
		if contained, errMatch := CIDRContains(address, e.CIDR); errMatch == nil && contained {
			return true
		}
	}

	if e.AddressPattern != "" && glob.Glob(e.AddressPattern, address) {
		return true
	}

	return false
}

// Matches reports whether the request triple satisfies all of the entry's criteria.
// Endpoint globs are anchored and case sensitive, * matching any run of characters.
func (e WhitelistEntry) Matches(address string, endpoint string, clientID string) bool {
	if !e.matchesAddress(address) {
		return false
	}

	if e.EndpointPattern != "" && !glob.Glob(e.EndpointPattern, endpoint) {
		return false
	}

	if e.ClientID != "" && e.ClientID != clientID {
		return false
	}

	return true
}

// Source is a named remote URL serving newline separated CIDR ranges which get
// mirrored into system owned blacklist entries.
type Source struct {
	SourceID  int64     `json:"source_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request is the descriptor handed in by the web layer for evaluation.
type Request struct {
	Address   string            `json:"address"`
	Endpoint  string            `json:"endpoint"`
	Method    string            `json:"method"`
	ClientID  string            `json:"client_id"`
	UserAgent string            `json:"user_agent"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Decision is the outcome handed back to the caller, which is responsible for
// translating a deny into an HTTP rejection.
type Decision struct {
	Permit      bool     `json:"permit"`
	Result      Result   `json:"result"`
	BlockReason string   `json:"block_reason,omitempty"`
	RuleID      *int64   `json:"rule_id,omitempty"`
	RuleKind    RuleKind `json:"rule_kind,omitempty"`
}

// AccessLogEntry is the append-only audit record written once per evaluated request.
type AccessLogEntry struct {
	AccessLogID uuid.UUID         `json:"access_log_id"`
	Address     string            `json:"address"`
	UserAgent   string            `json:"user_agent"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	ClientID    string            `json:"client_id"`
	RuleID      *int64            `json:"rule_id,omitempty"`
	RuleKind    RuleKind          `json:"rule_kind,omitempty"`
	Result      Result            `json:"result"`
	BlockReason string            `json:"block_reason,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	AttemptedAt time.Time         `json:"attempted_at"`
}
