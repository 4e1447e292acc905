package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"webhooks", "webhook_outcomes", "delivery_jobs", "delivery_attempts"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}

	// Bootstrap is idempotent.
	if err := BootstrapSQLite(context.Background(), db); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestFormatTimeSortsLexicographically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(10 * time.Millisecond),
		base,
		base.Add(time.Second),
		base.Add(1500 * time.Microsecond),
	}

	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = FormatTime(ts)
	}
	sort.Strings(formatted)

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i, ts := range times {
		if formatted[i] != FormatTime(ts) {
			t.Fatalf("position %d: got %s, want %s", i, formatted[i], FormatTime(ts))
		}
	}

	parsed, err := ParseTime(FormatTime(base.Add(1500 * time.Microsecond)))
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !parsed.Equal(base.Add(1500 * time.Microsecond)) {
		t.Fatalf("round trip mismatch: %v", parsed)
	}
}

func TestOpenSQLiteAppliesPragmas(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout;").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
}
