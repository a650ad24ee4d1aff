package access

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/kavelund/accessgate/internal/database"
)

type ruleRepository struct {
	db database.Database
}

// NewRuleRepository returns the Postgres backed RuleStore.
func NewRuleRepository(db database.Database) RuleStore {
	return &ruleRepository{db: db}
}

var ErrCloseBatch = errors.New("failed to close batch results")

func activeAt(now time.Time) sq.Sqlizer {
	return sq.And{
		sq.Eq{"active": true},
		sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": now}},
	}
}

func blacklistSelect(db database.Database) sq.SelectBuilder {
	return db.Builder().
		Select("blacklist_id", "address", "net_block", "reason", "source_id",
			"added_by", "added_at", "expires_at", "active").
		From("blacklist_entry")
}

func scanBlacklist(row pgx.Row) (BlacklistEntry, error) {
	var (
		entry    BlacklistEntry
		address  *string
		netBlock *string
	)

	if errScan := row.Scan(&entry.BlacklistID, &address, &netBlock, &entry.Reason,
		&entry.SourceID, &entry.AddedBy, &entry.AddedAt, &entry.ExpiresAt, &entry.Active); errScan != nil {
		return BlacklistEntry{}, database.DBErr(errScan)
	}

	if address != nil {
		entry.Address = *address
	}

	if netBlock != nil {
		entry.CIDR = *netBlock
	}

	return entry, nil
}

func (r *ruleRepository) ActiveBlacklistByAddress(ctx context.Context, address string, now time.Time) (BlacklistEntry, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, blacklistSelect(r.db).
		Where(sq.And{sq.Eq{"address": address}, activeAt(now)}))
	if errRow != nil {
		return BlacklistEntry{}, database.DBErr(errRow)
	}

	return scanBlacklist(row)
}

func (r *ruleRepository) ActiveBlacklistRanges(ctx context.Context, now time.Time) ([]BlacklistEntry, error) {
	rows, errRows := r.db.QueryBuilder(ctx, blacklistSelect(r.db).
		Where(sq.And{sq.NotEq{"net_block": nil}, activeAt(now)}))
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	entries := make([]BlacklistEntry, 0)

	for rows.Next() {
		entry, errScan := scanBlacklist(rows)
		if errScan != nil {
			return nil, errScan
		}

		entries = append(entries, entry)
	}

	return entries, database.DBErr(rows.Err())
}

func (r *ruleRepository) SaveBlacklist(ctx context.Context, entry *BlacklistEntry) error {
	if entry.BlacklistID > 0 {
		_, errUpdate := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
			Update("blacklist_entry").
			SetMap(map[string]interface{}{
				"address":    nullable(entry.Address),
				"net_block":  nullable(entry.CIDR),
				"reason":     entry.Reason,
				"source_id":  entry.SourceID,
				"added_by":   entry.AddedBy,
				"expires_at": entry.ExpiresAt,
				"active":     entry.Active,
			}).
			Where(sq.Eq{"blacklist_id": entry.BlacklistID}))

		return database.DBErr(errUpdate)
	}

	return database.DBErr(r.db.ExecInsertBuilderWithReturnValue(ctx, r.db.Builder().
		Insert("blacklist_entry").
		SetMap(map[string]interface{}{
			"address":    nullable(entry.Address),
			"net_block":  nullable(entry.CIDR),
			"reason":     entry.Reason,
			"source_id":  entry.SourceID,
			"added_by":   entry.AddedBy,
			"added_at":   entry.AddedAt,
			"expires_at": entry.ExpiresAt,
			"active":     entry.Active,
		}).
		Suffix("RETURNING blacklist_id"), &entry.BlacklistID))
}

func (r *ruleRepository) DeactivateExpiredAddress(ctx context.Context, address string, now time.Time) (int64, error) {
	affected, errUpdate := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
		Update("blacklist_entry").
		Set("active", false).
		Where(sq.And{sq.Eq{"address": address, "active": true}, sq.LtOrEq{"expires_at": now}}))

	return affected, database.DBErr(errUpdate)
}

func (r *ruleRepository) DeactivateBlacklist(ctx context.Context, blacklistID int64) (int64, error) {
	affected, errUpdate := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
		Update("blacklist_entry").
		Set("active", false).
		Where(sq.Eq{"blacklist_id": blacklistID, "active": true}))

	return affected, database.DBErr(errUpdate)
}

func (r *ruleRepository) Blacklists(ctx context.Context, query RuleQuery) ([]BlacklistEntry, error) {
	builder := blacklistSelect(r.db).OrderBy("blacklist_id")
	if !query.Deleted {
		builder = builder.Where(sq.Eq{"active": true})
	}

	builder = applyPaging(builder, query.Limit, query.Offset)

	rows, errRows := r.db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	entries := make([]BlacklistEntry, 0)

	for rows.Next() {
		entry, errScan := scanBlacklist(rows)
		if errScan != nil {
			return nil, errScan
		}

		entries = append(entries, entry)
	}

	return entries, database.DBErr(rows.Err())
}

func whitelistSelect(db database.Database) sq.SelectBuilder {
	return db.Builder().
		Select("whitelist_id", "address", "net_block", "address_pattern", "endpoint_pattern",
			"client_id", "description", "priority", "added_by", "added_at", "expires_at", "active").
		From("whitelist_entry")
}

func scanWhitelist(row pgx.Row) (WhitelistEntry, error) {
	var (
		entry           WhitelistEntry
		address         *string
		netBlock        *string
		addressPattern  *string
		endpointPattern *string
		clientID        *string
	)

	if errScan := row.Scan(&entry.WhitelistID, &address, &netBlock, &addressPattern, &endpointPattern,
		&clientID, &entry.Description, &entry.Priority, &entry.AddedBy, &entry.AddedAt,
		&entry.ExpiresAt, &entry.Active); errScan != nil {
		return WhitelistEntry{}, database.DBErr(errScan)
	}

	entry.Address = deref(address)
	entry.CIDR = deref(netBlock)
	entry.AddressPattern = deref(addressPattern)
	entry.EndpointPattern = deref(endpointPattern)
	entry.ClientID = deref(clientID)

	return entry, nil
}

func (r *ruleRepository) ActiveWhitelist(ctx context.Context, now time.Time) ([]WhitelistEntry, error) {
	rows, errRows := r.db.QueryBuilder(ctx, whitelistSelect(r.db).Where(activeAt(now)))
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	entries := make([]WhitelistEntry, 0)

	for rows.Next() {
		entry, errScan := scanWhitelist(rows)
		if errScan != nil {
			return nil, errScan
		}

		entries = append(entries, entry)
	}

	return entries, database.DBErr(rows.Err())
}

func (r *ruleRepository) SaveWhitelist(ctx context.Context, entry *WhitelistEntry) error {
	values := map[string]interface{}{
		"address":          nullable(entry.Address),
		"net_block":        nullable(entry.CIDR),
		"address_pattern":  nullable(entry.AddressPattern),
		"endpoint_pattern": nullable(entry.EndpointPattern),
		"client_id":        nullable(entry.ClientID),
		"description":      entry.Description,
		"priority":         entry.Priority,
		"added_by":         entry.AddedBy,
		"expires_at":       entry.ExpiresAt,
		"active":           entry.Active,
	}

	if entry.WhitelistID > 0 {
		_, errUpdate := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
			Update("whitelist_entry").
			SetMap(values).
			Where(sq.Eq{"whitelist_id": entry.WhitelistID}))

		return database.DBErr(errUpdate)
	}

	values["added_at"] = entry.AddedAt

	return database.DBErr(r.db.ExecInsertBuilderWithReturnValue(ctx, r.db.Builder().
		Insert("whitelist_entry").
		SetMap(values).
		Suffix("RETURNING whitelist_id"), &entry.WhitelistID))
}

func (r *ruleRepository) DeactivateWhitelist(ctx context.Context, whitelistID int64) (int64, error) {
	affected, errUpdate := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
		Update("whitelist_entry").
		Set("active", false).
		Where(sq.Eq{"whitelist_id": whitelistID, "active": true}))

	return affected, database.DBErr(errUpdate)
}

func (r *ruleRepository) Whitelists(ctx context.Context, query RuleQuery) ([]WhitelistEntry, error) {
	builder := whitelistSelect(r.db).OrderBy("priority", "whitelist_id")
	if !query.Deleted {
		builder = builder.Where(sq.Eq{"active": true})
	}

	builder = applyPaging(builder, query.Limit, query.Offset)

	rows, errRows := r.db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	entries := make([]WhitelistEntry, 0)

	for rows.Next() {
		entry, errScan := scanWhitelist(rows)
		if errScan != nil {
			return nil, errScan
		}

		entries = append(entries, entry)
	}

	return entries, database.DBErr(rows.Err())
}

func (r *ruleRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	expired := sq.And{sq.Eq{"active": true}, sq.LtOrEq{"expires_at": now}}

	blacklisted, errBlacklist := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
		Update("blacklist_entry").Set("active", false).Where(expired))
	if errBlacklist != nil {
		return 0, database.DBErr(errBlacklist)
	}

	whitelisted, errWhitelist := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
		Update("whitelist_entry").Set("active", false).Where(expired))
	if errWhitelist != nil {
		return blacklisted, database.DBErr(errWhitelist)
	}

	return blacklisted + whitelisted, nil
}

func (r *ruleRepository) Sources(ctx context.Context) ([]Source, error) {
	rows, errRows := r.db.QueryBuilder(ctx, r.db.Builder().
		Select("source_id", "name", "url", "enabled", "created_at", "updated_at").
		From("blacklist_source").
		OrderBy("source_id"))
	if errRows != nil {
		if errors.Is(database.DBErr(errRows), database.ErrNoResult) {
			return []Source{}, nil
		}

		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	sources := make([]Source, 0)

	for rows.Next() {
		var source Source
		if errScan := rows.Scan(&source.SourceID, &source.Name, &source.URL,
			&source.Enabled, &source.CreatedAt, &source.UpdatedAt); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		sources = append(sources, source)
	}

	return sources, database.DBErr(rows.Err())
}

func (r *ruleRepository) GetSource(ctx context.Context, sourceID int64) (Source, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select("source_id", "name", "url", "enabled", "created_at", "updated_at").
		From("blacklist_source").
		Where(sq.Eq{"source_id": sourceID}))
	if errRow != nil {
		return Source{}, database.DBErr(errRow)
	}

	var source Source
	if errScan := row.Scan(&source.SourceID, &source.Name, &source.URL,
		&source.Enabled, &source.CreatedAt, &source.UpdatedAt); errScan != nil {
		return Source{}, database.DBErr(errScan)
	}

	return source, nil
}

func (r *ruleRepository) SaveSource(ctx context.Context, source *Source) error {
	if source.SourceID > 0 {
		_, errUpdate := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
			Update("blacklist_source").
			SetMap(map[string]interface{}{
				"name":       source.Name,
				"url":        source.URL,
				"enabled":    source.Enabled,
				"updated_at": source.UpdatedAt,
			}).
			Where(sq.Eq{"source_id": source.SourceID}))

		return database.DBErr(errUpdate)
	}

	return database.DBErr(r.db.ExecInsertBuilderWithReturnValue(ctx, r.db.Builder().
		Insert("blacklist_source").
		SetMap(map[string]interface{}{
			"name":       source.Name,
			"url":        source.URL,
			"enabled":    source.Enabled,
			"created_at": source.CreatedAt,
			"updated_at": source.UpdatedAt,
		}).
		Suffix("RETURNING source_id"), &source.SourceID))
}

func (r *ruleRepository) DeleteSource(ctx context.Context, sourceID int64) error {
	if err := r.db.WrapTx(ctx, func(tx pgx.Tx) error {
		if _, errDrop := tx.Exec(ctx,
			"UPDATE blacklist_entry SET active = false WHERE source_id = $1", sourceID); errDrop != nil {
			return database.DBErr(errDrop)
		}

		if _, errDelete := tx.Exec(ctx,
			"DELETE FROM blacklist_source WHERE source_id = $1", sourceID); errDelete != nil {
			return database.DBErr(errDelete)
		}

		return nil
	}); err != nil {
		return err
	}

	return nil
}

func (r *ruleRepository) ReplaceSourceEntries(ctx context.Context, source Source, ranges []string) error {
	const insert = `INSERT INTO blacklist_entry
		(net_block, reason, source_id, added_by, added_at, active)
		VALUES ($1, $2, $3, $4, $5, true)`

	now := time.Now()

	return r.db.WrapTx(ctx, func(tx pgx.Tx) error {
		if _, errDrop := tx.Exec(ctx,
			"UPDATE blacklist_entry SET active = false WHERE source_id = $1", source.SourceID); errDrop != nil {
			return database.DBErr(errDrop)
		}

		batch := pgx.Batch{}
		for _, cidrRange := range ranges {
			batch.Queue(insert, cidrRange, "listed by "+source.Name, source.SourceID, "source:"+source.Name, now)
		}

		results := tx.SendBatch(ctx, &batch)
		if errClose := results.Close(); errClose != nil {
			return errors.Join(errClose, ErrCloseBatch)
		}

		return nil
	})
}

func applyPaging(builder sq.SelectBuilder, limit uint64, offset uint64) sq.SelectBuilder {
	if limit == 0 || limit > 1000 {
		limit = 1000
	}

	builder = builder.Limit(limit)

	if offset > 0 {
		builder = builder.Offset(offset)
	}

	return builder
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}

	return *value
}
