package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the job queue and rerouting tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_queue (
  entry_id      TEXT PRIMARY KEY,
  job_id        TEXT NOT NULL,
  job_type      TEXT NOT NULL,
  queue         TEXT NOT NULL,
  record        JSON NOT NULL,
  status        TEXT NOT NULL,
  attempt       INTEGER NOT NULL DEFAULT 1,
  max_attempts  INTEGER NOT NULL DEFAULT 4,
  created_at    TEXT NOT NULL,
  started_at    TEXT,
  completed_at  TEXT,
  next_retry_at TEXT,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS rerouting_hash (
  hash_name  TEXT NOT NULL,
  field      TEXT NOT NULL,
  value      TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (hash_name, field)
);`,
		`CREATE INDEX IF NOT EXISTS job_queue_status_queue_created_at_idx ON job_queue(status, queue, created_at);`,
		`CREATE INDEX IF NOT EXISTS job_queue_job_id_idx ON job_queue(job_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
