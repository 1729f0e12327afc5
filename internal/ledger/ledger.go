// Package ledger is the durable, append-only store of priced usage records.
// Records are deduplicated on insert and queried as time-windowed aggregates.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/zhaobenny/agenttop/internal/model"
	"github.com/zhaobenny/agenttop/internal/normalize"
	"github.com/zhaobenny/agenttop/internal/pricing"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
	log zerolog.Logger
}

// Open opens the SQLite ledger and runs migrations. This is the only part of
// the subsystem allowed to fail hard: without a ledger there is nothing to
// ingest into.
func Open(dbPath string, log zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so summary queries can run while an ingestion tick is
	// writing.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	ldb := &DB{DB: db, log: log}
	if err := ldb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return ldb, nil
}

// migrate creates the schema and applies the additive, idempotent migrations.
// It runs at every open.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp_ms INTEGER NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cache_read_tokens INTEGER DEFAULT 0,
		cache_creation_tokens INTEGER DEFAULT 0,
		estimated_cost REAL DEFAULT 0,
		source TEXT NOT NULL,
		session_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp_ms);
	CREATE INDEX IF NOT EXISTS idx_usage_provider_model ON usage_records(provider, model);

	CREATE TABLE IF NOT EXISTS ledger_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release; databases created by older
	// agents gain them here.
	for col, ddl := range map[string]string{
		"session_id":            "ALTER TABLE usage_records ADD COLUMN session_id TEXT",
		"cache_read_tokens":     "ALTER TABLE usage_records ADD COLUMN cache_read_tokens INTEGER DEFAULT 0",
		"cache_creation_tokens": "ALTER TABLE usage_records ADD COLUMN cache_creation_tokens INTEGER DEFAULT 0",
	} {
		ok, err := db.hasColumn("usage_records", col)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := db.Exec(ddl); err != nil {
				return err
			}
		}
	}

	if err := db.dedupeAndIndex(); err != nil {
		return err
	}

	return db.repriceCodexRows()
}

// dedupeAndIndex removes duplicate tuples and then creates the uniqueness
// index. The sweep must run strictly before the index exists: creating the
// index over pre-existing duplicates would fail.
func (db *DB) dedupeAndIndex() error {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_usage_unique'`,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		DELETE FROM usage_records WHERE id NOT IN (
			SELECT MIN(id) FROM usage_records
			GROUP BY timestamp_ms, provider, model, source, input_tokens, output_tokens
		)
	`)
	if err != nil {
		return err
	}
	if removed, _ := res.RowsAffected(); removed > 0 {
		db.log.Info().Int64("removed", removed).Msg("removed duplicate usage records")
	}

	_, err = tx.Exec(`
		CREATE UNIQUE INDEX idx_usage_unique ON usage_records
		(timestamp_ms, provider, model, source, input_tokens, output_tokens)
	`)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// repriceCodexRows fixes records stored before the normalizer learned the
// "-codex" model suffix: their cost was computed against an unknown pricing
// key and recorded as zero. Runs once, keyed in ledger_meta.
func (db *DB) repriceCodexRows() error {
	const metaKey = "repriced_gpt5_codex"

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ledger_meta WHERE key = ?`, metaKey).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens
		FROM usage_records WHERE model = 'gpt-5-codex'
	`)
	if err != nil {
		return err
	}

	type fix struct {
		id   int64
		cost float64
	}
	var fixes []fix
	for rows.Next() {
		var id int64
		var u model.TokenUsage
		if err := rows.Scan(&id, &u.InputTokens, &u.OutputTokens, &u.CacheReadTokens, &u.CacheCreationTokens); err != nil {
			rows.Close()
			return err
		}
		fixes = append(fixes, fix{id: id, cost: pricing.Cost("gpt-5", u)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range fixes {
		if _, err := tx.Exec(`UPDATE usage_records SET estimated_cost = ? WHERE id = ?`, f.cost, f.id); err != nil {
			return err
		}
	}
	if len(fixes) > 0 {
		db.log.Info().Int("records", len(fixes)).Msg("repriced gpt-5-codex usage records")
	}

	if _, err := tx.Exec(`INSERT INTO ledger_meta (key, value) VALUES (?, '1')`, metaKey); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) hasColumn(table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Insert normalizes, prices and stores one usage event. Inserting a record
// whose (timestamp, provider, model, source, input, output) tuple already
// exists is a no-op, not an error. Unknown models price at zero; the token
// counts are still recorded.
func (db *DB) Insert(ev model.UsageEvent, provider model.Provider, source string) error {
	_, err := db.InsertEvents([]model.UsageEvent{ev}, provider, source)
	return err
}

// InsertEvents inserts a batch of events in one transaction and returns the
// number of records actually stored (duplicates excluded).
func (db *DB) InsertEvents(events []model.UsageEvent, provider model.Provider, source string) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO usage_records
		(timestamp_ms, provider, model, input_tokens, output_tokens,
		 cache_read_tokens, cache_creation_tokens, estimated_cost, source, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var inserted int64
	for _, ev := range events {
		name := normalize.Normalize(ev.Model, provider)

		u := ev.Usage
		if u.CacheReadTokens > u.InputTokens {
			u.CacheReadTokens = u.InputTokens
		}
		if u.CacheCreationTokens > u.InputTokens {
			u.CacheCreationTokens = u.InputTokens
		}

		cost := pricing.Cost(name, u)
		if ev.CostUSD != nil {
			cost = *ev.CostUSD
		}

		res, err := stmt.Exec(
			ev.Timestamp.UnixMilli(), string(provider), name,
			u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheCreationTokens,
			cost, source, nullIfEmpty(ev.SessionID),
		)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	return inserted, tx.Commit()
}

// CleanupOldData deletes records older than retentionDays and returns the
// number deleted. Idempotent housekeeping.
func (db *DB) CleanupOldData(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := db.Exec(`DELETE FROM usage_records WHERE timestamp_ms < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
