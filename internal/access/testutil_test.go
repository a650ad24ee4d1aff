package access_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kavelund/accessgate/internal/access"
	"github.com/kavelund/accessgate/internal/database"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory access.RuleStore used to exercise the evaluators and
// lifecycle manager without a database.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	blacklists map[int64]access.BlacklistEntry
	whitelists map[int64]access.WhitelistEntry
	sources    map[int64]access.Source
	failReads  bool
}

func newMemStore() *memStore {
	return &memStore{
		blacklists: map[int64]access.BlacklistEntry{},
		whitelists: map[int64]access.WhitelistEntry{},
		sources:    map[int64]access.Source{},
	}
}

func (s *memStore) ActiveBlacklistByAddress(_ context.Context, address string, now time.Time) (access.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads {
		return access.BlacklistEntry{}, errStoreDown
	}

	for _, entry := range s.blacklists {
		if entry.Address == address && entry.EffectiveActive(now) {
			return entry, nil
		}
	}

	return access.BlacklistEntry{}, database.ErrNoResult
}

func (s *memStore) ActiveBlacklistRanges(_ context.Context, now time.Time) ([]access.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads {
		return nil, errStoreDown
	}

	var entries []access.BlacklistEntry

	for _, entry := range s.blacklists {
		if entry.CIDR != "" && entry.EffectiveActive(now) {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

func (s *memStore) ActiveWhitelist(_ context.Context, now time.Time) ([]access.WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads {
		return nil, errStoreDown
	}

	var entries []access.WhitelistEntry

	for _, entry := range s.whitelists {
		if entry.EffectiveActive(now) {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

func (s *memStore) SaveBlacklist(_ context.Context, entry *access.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.BlacklistID == 0 {
		// Mirrors the partial unique index on active exact addresses: the stored
		// active flag decides, not computed expiry.
		if entry.Address != "" {
			for _, existing := range s.blacklists {
				if existing.Active && existing.Address == entry.Address {
					return database.ErrDuplicate
				}
			}
		}

		s.nextID++
		entry.BlacklistID = s.nextID
	}

	s.blacklists[entry.BlacklistID] = *entry

	return nil
}

func (s *memStore) DeactivateExpiredAddress(_ context.Context, address string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64

	for id, entry := range s.blacklists {
		if entry.Active && entry.Address == address && entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
			entry.Active = false
			s.blacklists[id] = entry
			affected++
		}
	}

	return affected, nil
}

func (s *memStore) SaveWhitelist(_ context.Context, entry *access.WhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.WhitelistID == 0 {
		s.nextID++
		entry.WhitelistID = s.nextID
	}

	s.whitelists[entry.WhitelistID] = *entry

	return nil
}

func (s *memStore) DeactivateBlacklist(_ context.Context, blacklistID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.blacklists[blacklistID]
	if !found || !entry.Active {
		return 0, nil
	}

	entry.Active = false
	s.blacklists[blacklistID] = entry

	return 1, nil
}

func (s *memStore) DeactivateWhitelist(_ context.Context, whitelistID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.whitelists[whitelistID]
	if !found || !entry.Active {
		return 0, nil
	}

	entry.Active = false
	s.whitelists[whitelistID] = entry

	return 1, nil
}

func (s *memStore) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64

	for id, entry := range s.blacklists {
		if entry.Active && entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
			entry.Active = false
			s.blacklists[id] = entry
			affected++
		}
	}

	for id, entry := range s.whitelists {
		if entry.Active && entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
			entry.Active = false
			s.whitelists[id] = entry
			affected++
		}
	}

	return affected, nil
}

func (s *memStore) Blacklists(_ context.Context, query access.RuleQuery) ([]access.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []access.BlacklistEntry

	for _, entry := range s.blacklists {
		if entry.Active || query.Deleted {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].BlacklistID < entries[j].BlacklistID })

	return entries, nil
}

func (s *memStore) Whitelists(_ context.Context, query access.RuleQuery) ([]access.WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []access.WhitelistEntry

	for _, entry := range s.whitelists {
		if entry.Active || query.Deleted {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].WhitelistID < entries[j].WhitelistID })

	return entries, nil
}

func (s *memStore) Sources(_ context.Context) ([]access.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sources []access.Source

	for _, source := range s.sources {
		sources = append(sources, source)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].SourceID < sources[j].SourceID })

	return sources, nil
}

func (s *memStore) GetSource(_ context.Context, sourceID int64) (access.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, found := s.sources[sourceID]
	if !found {
		return access.Source{}, database.ErrNoResult
	}

	return source, nil
}

func (s *memStore) SaveSource(_ context.Context, source *access.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if source.SourceID == 0 {
		s.nextID++
		source.SourceID = s.nextID
	}

	s.sources[source.SourceID] = *source

	return nil
}

func (s *memStore) DeleteSource(_ context.Context, sourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.blacklists {
		if entry.SourceID != nil && *entry.SourceID == sourceID {
			entry.Active = false
			s.blacklists[id] = entry
		}
	}

	delete(s.sources, sourceID)

	return nil
}

func (s *memStore) ReplaceSourceEntries(_ context.Context, source access.Source, ranges []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.blacklists {
		if entry.SourceID != nil && *entry.SourceID == source.SourceID {
			entry.Active = false
			s.blacklists[id] = entry
		}
	}

	for _, cidr := range ranges {
		s.nextID++
		sourceID := source.SourceID
		s.blacklists[s.nextID] = access.BlacklistEntry{
			BlacklistID: s.nextID,
			CIDR:        cidr,
			Reason:      "listed by " + source.Name,
			SourceID:    &sourceID,
			AddedBy:     "source:" + source.Name,
			AddedAt:     time.Now(),
			Active:      true,
		}
	}

	return nil
}

// memAudit is an in-memory access.AuditStore.
type memAudit struct {
	mu      sync.Mutex
	entries []access.AccessLogEntry
}

func (a *memAudit) RecordAccess(_ context.Context, entry *access.AccessLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, *entry)

	return nil
}

func (a *memAudit) AccessLogs(_ context.Context, query access.LogQuery) ([]access.AccessLogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var entries []access.AccessLogEntry

	for _, entry := range a.entries {
		if query.Address != "" && entry.Address != query.Address {
			continue
		}

		if query.Result != "" && string(entry.Result) != query.Result {
			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (a *memAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.entries)
}
