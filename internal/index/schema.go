package index

// SchemaVersion is written to the meta table when an index is created and
// advanced by Open when an older index is migrated.
const SchemaVersion = "2"

// CreateEventsTableSQL mirrors event metadata from the hot store.
// ts is unix milliseconds (UTC).
const CreateEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    ts INTEGER NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    redacted INTEGER NOT NULL DEFAULT 0
)`

// CreateEventsIndexesSQL supports the type, time and session filters.
var CreateEventsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts)`,
}

// CreateSummariesTableSQL holds one row per compacted period. event_count is
// hoisted out of summary_json for cheap aggregation; id_bloom is the
// snappy-compressed bloom filter of the period's archived event ids.
const CreateSummariesTableSQL = `
CREATE TABLE IF NOT EXISTS summaries (
    period TEXT PRIMARY KEY,
    summary_json TEXT NOT NULL,
    event_count INTEGER NOT NULL,
    id_bloom BLOB,
    updated_at INTEGER NOT NULL
)`

// CreateMetaTableSQL is a key/value table for index bookkeeping.
const CreateMetaTableSQL = `
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

// InsertSchemaVersionSQL records the schema version on first open only.
const InsertSchemaVersionSQL = `INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`

// AllSchemaSQL returns all statements needed to initialize the index.
func AllSchemaSQL() []string {
	stmts := []string{CreateEventsTableSQL}
	stmts = append(stmts, CreateEventsIndexesSQL...)
	stmts = append(stmts, CreateSummariesTableSQL, CreateMetaTableSQL)
	return stmts
}

// migration upgrades an index from one schema version to the next.
type migration struct {
	from, to string
	stmts    []string
}

// migrations are applied in order by Open.
var migrations = []migration{
	{from: "1", to: "2", stmts: []string{
		`ALTER TABLE events ADD COLUMN redacted INTEGER NOT NULL DEFAULT 0`,
	}},
}
