// Package index maintains the SQLite secondary index over the event log and
// the compacted period summaries. The index is derived data: Rebuild
// reproduces it from the hot store and the archive at any time.
//
// An Index is meant to be opened, used and closed per logical operation.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/arkilian/eventarchive/internal/bloom"
	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

// Index is an open handle on the secondary index database.
type Index struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the index logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// EventRow is the indexed metadata of one event.
type EventRow struct {
	ID        string          `json:"id"`
	Type      types.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	Redacted  bool            `json:"redacted,omitempty"`
}

// EventQuery filters QueryEvents. Zero values mean "no constraint".
type EventQuery struct {
	Types     []types.EventType
	SessionID string
	// Since is inclusive, Until is exclusive
	Since time.Time
	Until time.Time
	// Limit keeps only the most recent Limit rows
	Limit           int
	IncludeRedacted bool
}

// Open opens the index at path, creating the file and schema when missing.
// Opening an existing index is idempotent and preserves its schema version.
func Open(ctx context.Context, path string, opts ...Option) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, arkerrors.NewIndexError(arkerrors.CodeIndexUnavailable, "failed to create index directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexUnavailable, "failed to open index", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexUnavailable, "failed to connect to index", err)
	}

	ix := &Index{db: db, path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ix)
	}

	if err := ix.initSchema(ctx); err != nil {
		db.Close()
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexUnavailable, "failed to initialize index schema", err)
	}
	return ix, nil
}

func (ix *Index) initSchema(ctx context.Context) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range AllSchemaSQL() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, InsertSchemaVersionSQL, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	if err := ix.migrate(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// migrate walks an older index forward to SchemaVersion.
func (ix *Index) migrate(ctx context.Context, tx *sql.Tx) error {
	var version string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if version != m.from {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s->%s failed: %w", m.from, m.to, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = 'schema_version'`, m.to); err != nil {
			return fmt.Errorf("failed to record schema version %s: %w", m.to, err)
		}
		ix.logger.Info("index schema migrated",
			zap.String("from", m.from),
			zap.String("to", m.to),
			zap.String("path", ix.path))
		version = m.to
	}

	if version != SchemaVersion {
		return fmt.Errorf("unsupported index schema version %s", version)
	}
	return nil
}

// Close closes the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Path returns the database file path.
func (ix *Index) Path() string {
	return ix.path
}

// SchemaVersion returns the schema version recorded when the index was created.
func (ix *Index) SchemaVersion(ctx context.Context) (string, error) {
	var v string
	err := ix.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if err != nil {
		return "", arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to read schema version", err)
	}
	return v, nil
}

// BulkInsertEvents upserts events in a single transaction. Either every row
// is written or none is.
func (ix *Index) BulkInsertEvents(ctx context.Context, events []types.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := insertEventsTx(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to commit events", err)
	}
	return nil
}

const upsertEventSQL = `
INSERT INTO events (id, type, ts, session_id, redacted) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    type = excluded.type,
    ts = excluded.ts,
    session_id = excluded.session_id,
    redacted = excluded.redacted`

func insertEventsTx(ctx context.Context, tx *sql.Tx, events []types.EventRecord) error {
	stmt, err := tx.PrepareContext(ctx, upsertEventSQL)
	if err != nil {
		return arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to prepare event insert", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Type), e.Timestamp.UTC().UnixMilli(), e.SessionID, e.Redacted); err != nil {
			return arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed,
				fmt.Sprintf("failed to insert event %s", e.ID), err)
		}
	}
	return nil
}

// RemoveEventsByPeriod deletes every event row whose timestamp falls inside
// period and returns the number of rows removed.
func (ix *Index) RemoveEventsByPeriod(ctx context.Context, period types.Period) (int64, error) {
	res, err := ix.db.ExecContext(ctx, `DELETE FROM events WHERE ts >= ? AND ts < ?`,
		period.Start().UnixMilli(), period.End().UnixMilli())
	if err != nil {
		return 0, arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to remove period events", err)
	}
	return res.RowsAffected()
}

// InsertSummary upserts the summary row for s.Period. A nil filter keeps any
// filter already stored for the period.
func (ix *Index) InsertSummary(ctx context.Context, s *summary.PeriodSummary, ids *bloom.Filter) error {
	return upsertSummary(ctx, ix.db, s, ids)
}

// ReplacePeriod drops the period's event rows and upserts its summary in one
// transaction. It returns the number of event rows removed.
func (ix *Index) ReplacePeriod(ctx context.Context, period types.Period, s *summary.PeriodSummary, ids *bloom.Filter) (int64, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE ts >= ? AND ts < ?`,
		period.Start().UnixMilli(), period.End().UnixMilli())
	if err != nil {
		return 0, arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to remove period events", err)
	}
	removed, _ := res.RowsAffected()

	if err := upsertSummary(ctx, tx, s, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to commit period", err)
	}
	return removed, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertSummary(ctx context.Context, db execer, s *summary.PeriodSummary, ids *bloom.Filter) error {
	if _, err := types.ParsePeriod(s.Period); err != nil {
		return arkerrors.NewValidationError(arkerrors.CodeMalformedPeriod, err.Error())
	}

	data, err := json.Marshal(s)
	if err != nil {
		return arkerrors.NewInternalError("failed to serialize summary", err)
	}

	var blob interface{}
	if ids != nil {
		blob = ids.Encode()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO summaries (period, summary_json, event_count, id_bloom, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(period) DO UPDATE SET
		    summary_json = excluded.summary_json,
		    event_count = excluded.event_count,
		    id_bloom = COALESCE(excluded.id_bloom, summaries.id_bloom),
		    updated_at = excluded.updated_at`,
		s.Period, string(data), s.EventCount, blob, time.Now().UnixMilli())
	if err != nil {
		return arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed,
			fmt.Sprintf("failed to upsert summary %s", s.Period), err)
	}
	return nil
}

// QuerySummaries returns the summary for period, or every summary ordered by
// period when period is empty.
func (ix *Index) QuerySummaries(ctx context.Context, period string) ([]*summary.PeriodSummary, error) {
	query := `SELECT summary_json FROM summaries ORDER BY period`
	var args []interface{}
	if period != "" {
		if _, err := types.ParsePeriod(period); err != nil {
			return nil, arkerrors.NewValidationError(arkerrors.CodeMalformedPeriod, err.Error())
		}
		query = `SELECT summary_json FROM summaries WHERE period = ?`
		args = append(args, period)
	}

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to query summaries", err)
	}
	defer rows.Close()

	var out []*summary.PeriodSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to scan summary", err)
		}
		var s summary.PeriodSummary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to decode summary", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to iterate summaries", err)
	}
	return out, nil
}

// QueryEvents returns indexed event rows matching q, ordered by (timestamp, id).
func (ix *Index) QueryEvents(ctx context.Context, q EventQuery) ([]EventRow, error) {
	var where []string
	var args []interface{}

	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, q.Until.UTC().UnixMilli())
	}
	if !q.IncludeRedacted {
		where = append(where, "redacted = 0")
	}

	query := `SELECT id, type, ts, session_id, redacted FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Limit > 0 {
		query = `SELECT id, type, ts, session_id, redacted FROM (` + query +
			` ORDER BY ts DESC, id DESC LIMIT ?) ORDER BY ts, id`
		args = append(args, q.Limit)
	} else {
		query += ` ORDER BY ts, id`
	}

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to query events", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var row EventRow
		var typ string
		var ts int64
		if err := rows.Scan(&row.ID, &typ, &ts, &row.SessionID, &row.Redacted); err != nil {
			return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to scan event", err)
		}
		row.Type = types.EventType(typ)
		row.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to iterate events", err)
	}
	return out, nil
}

// CountByType returns the number of indexed events per type.
func (ix *Index) CountByType(ctx context.Context) (map[types.EventType]int64, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM events GROUP BY type`)
	if err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to count events", err)
	}
	defer rows.Close()

	counts := make(map[types.EventType]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to scan count", err)
		}
		counts[types.EventType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to iterate counts", err)
	}
	return counts, nil
}

// HasEvent reports whether eventID has a hot event row.
func (ix *Index) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to look up event", err)
	}
	return n > 0, nil
}

// LookupArchived returns the periods whose archived-id filter may contain
// eventID, in period order. False positives are possible; false negatives
// are not.
func (ix *Index) LookupArchived(ctx context.Context, eventID string) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT period, id_bloom FROM summaries WHERE id_bloom IS NOT NULL ORDER BY period`)
	if err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to query filters", err)
	}
	defer rows.Close()

	var periods []string
	for rows.Next() {
		var period string
		var blob []byte
		if err := rows.Scan(&period, &blob); err != nil {
			return nil, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to scan filter", err)
		}
		f, err := bloom.Decode(blob)
		if err != nil {
			ix.logger.Warn("skipping unreadable id filter", zap.String("period", period), zap.Error(err))
			continue
		}
		if f.ContainsString(eventID) {
			periods = append(periods, period)
		}
	}
	return periods, rows.Err()
}

// Counts returns the number of event and summary rows.
func (ix *Index) Counts(ctx context.Context) (events, summaries int64, err error) {
	err = ix.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM events), (SELECT COUNT(*) FROM summaries)`).Scan(&events, &summaries)
	if err != nil {
		return 0, 0, arkerrors.NewIndexError(arkerrors.CodeIndexQueryFailed, "failed to count rows", err)
	}
	return events, summaries, nil
}
