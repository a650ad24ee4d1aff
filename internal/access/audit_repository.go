package access

import (
	"context"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/kavelund/accessgate/internal/database"
)

type auditRepository struct {
	db database.Database
}

// NewAuditRepository returns the Postgres backed append-only AuditStore.
func NewAuditRepository(db database.Database) AuditStore {
	return &auditRepository{db: db}
}

func (r *auditRepository) RecordAccess(ctx context.Context, entry *AccessLogEntry) error {
	var headers any
	if len(entry.Headers) > 0 {
		encoded, errEncode := json.Marshal(entry.Headers)
		if errEncode != nil {
			return errEncode
		}

		headers = encoded
	}

	return database.DBErr(r.db.ExecInsertBuilder(ctx, r.db.Builder().
		Insert("access_log").
		SetMap(map[string]interface{}{
			"access_log_id":   entry.AccessLogID,
			"address":         entry.Address,
			"user_agent":      entry.UserAgent,
			"endpoint":        entry.Endpoint,
			"method":          entry.Method,
			"client_id":       entry.ClientID,
			"matched_rule_id": entry.RuleID,
			"matched_kind":    string(entry.RuleKind),
			"result":          string(entry.Result),
			"block_reason":    entry.BlockReason,
			"headers":         headers,
			"attempted_at":    entry.AttemptedAt,
		})))
}

func (r *auditRepository) AccessLogs(ctx context.Context, query LogQuery) ([]AccessLogEntry, error) {
	builder := r.db.Builder().
		Select("access_log_id", "address", "user_agent", "endpoint", "method", "client_id",
			"matched_rule_id", "matched_kind", "result", "block_reason", "headers", "attempted_at").
		From("access_log").
		OrderBy("attempted_at DESC")

	if query.Address != "" {
		builder = builder.Where(sq.Eq{"address": query.Address})
	}

	if query.Result != "" {
		builder = builder.Where(sq.Eq{"result": query.Result})
	}

	builder = applyPaging(builder, query.Limit, query.Offset)

	rows, errRows := r.db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	entries := make([]AccessLogEntry, 0)

	for rows.Next() {
		var (
			entry   AccessLogEntry
			kind    string
			result  string
			headers []byte
		)

		if errScan := rows.Scan(&entry.AccessLogID, &entry.Address, &entry.UserAgent, &entry.Endpoint,
			&entry.Method, &entry.ClientID, &entry.RuleID, &kind, &result, &entry.BlockReason,
			&headers, &entry.AttemptedAt); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		entry.RuleKind = RuleKind(kind)
		entry.Result = Result(result)

		if len(headers) > 0 {
			if errDecode := json.Unmarshal(headers, &entry.Headers); errDecode != nil {
				return nil, errDecode
			}
		}

		entries = append(entries, entry)
	}

	return entries, database.DBErr(rows.Err())
}
