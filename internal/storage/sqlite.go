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

// TimeLayout is a fixed-width UTC layout so TEXT timestamps sort
// lexicographically in the same order as they do in time.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout (or RFC3339Nano) timestamp.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// ParseNullTime converts a nullable column into a *time.Time.
func ParseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
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
		`CREATE TABLE IF NOT EXISTS webhooks (
  id                 TEXT PRIMARY KEY,
  tenant_id          TEXT NOT NULL,
  url                TEXT NOT NULL,
  description        TEXT NOT NULL DEFAULT '',
  events             JSON NOT NULL,
  secret_sealed      BLOB NOT NULL,
  secret_fingerprint TEXT NOT NULL,
  is_active          INTEGER NOT NULL DEFAULT 1,
  auto_disabled_at   TEXT,
  created_at         TEXT NOT NULL,
  updated_at         TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS webhook_outcomes (
  webhook_id  TEXT NOT NULL,
  success     INTEGER NOT NULL,
  recorded_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS delivery_jobs (
  id              TEXT PRIMARY KEY,
  webhook_id      TEXT NOT NULL,
  tenant_id       TEXT NOT NULL,
  event           TEXT NOT NULL,
  payload         BLOB NOT NULL,
  status          TEXT NOT NULL,
  attempt         INTEGER NOT NULL DEFAULT 1,
  max_attempts    INTEGER NOT NULL DEFAULT 5,
  created_at      TEXT NOT NULL,
  started_at      TEXT,
  completed_at    TEXT,
  next_attempt_at TEXT NOT NULL,
  last_error      TEXT
);`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
  id               TEXT PRIMARY KEY,
  delivery_id      TEXT NOT NULL,
  webhook_id       TEXT NOT NULL,
  tenant_id        TEXT NOT NULL,
  event            TEXT NOT NULL,
  payload          BLOB NOT NULL,
  url              TEXT NOT NULL,
  attempt          INTEGER NOT NULL,
  status           TEXT NOT NULL,
  http_status      INTEGER,
  response_time_ms INTEGER NOT NULL,
  signature        TEXT NOT NULL,
  response_body    TEXT,
  error            TEXT,
  delivered_at     TEXT NOT NULL,
  UNIQUE (delivery_id, attempt)
);`,
		`CREATE INDEX IF NOT EXISTS webhooks_tenant_idx ON webhooks(tenant_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS webhook_outcomes_window_idx ON webhook_outcomes(webhook_id, recorded_at);`,
		`CREATE INDEX IF NOT EXISTS delivery_jobs_due_idx ON delivery_jobs(status, next_attempt_at);`,
		`CREATE INDEX IF NOT EXISTS delivery_attempts_webhook_idx ON delivery_attempts(tenant_id, webhook_id, delivered_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
