package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/moisson/source"
	"github.com/hazyhaar/moisson/sqliteopen"
)

const resultsSchema = `
CREATE TABLE IF NOT EXISTS results (
    url              TEXT PRIMARY KEY,
    title            TEXT NOT NULL DEFAULT '',
    snippet          TEXT NOT NULL DEFAULT '',
    source_code      TEXT NOT NULL,
    rank             INTEGER NOT NULL DEFAULT 0,
    fetch_method     TEXT NOT NULL DEFAULT '',
    fetch_latency_ms INTEGER NOT NULL DEFAULT 0,
    extra            TEXT NOT NULL DEFAULT '{}',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_source ON results (source_code);
`

// SQLite persists results in a local SQLite database, upserting by URL.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the
// results schema exists.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqliteopen.Open(path,
		sqliteopen.WithMkdirAll(),
		sqliteopen.WithSchema(resultsSchema),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: open sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLiteFromDB wraps an existing database handle (used in tests).
func NewSQLiteFromDB(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(resultsSchema); err != nil {
		return nil, fmt.Errorf("sink: init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Write upserts each record by URL. First-seen wins for source attribution;
// fetch metadata is refreshed when newer.
func (s *SQLite) Write(ctx context.Context, records []source.ResultRecord) error {
	now := time.Now().UnixMilli()
	for _, r := range records {
		if r.URL == "" {
			continue
		}
		extra := "{}"
		if len(r.Extra) > 0 {
			if b, err := json.Marshal(r.Extra); err == nil {
				extra = string(b)
			}
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO results (url, title, snippet, source_code, rank,
				fetch_method, fetch_latency_ms, extra, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET
				fetch_method     = excluded.fetch_method,
				fetch_latency_ms = excluded.fetch_latency_ms,
				updated_at       = excluded.updated_at`,
			r.URL, r.Title, r.Snippet, r.SourceCode, r.Rank,
			r.FetchMethod, r.FetchLatencyMs, extra, now, now,
		)
		if err != nil {
			return fmt.Errorf("sink: upsert %s: %w", r.URL, err)
		}
	}
	return nil
}

// Count returns the number of stored results.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
