// Package store provides the per-device local database for daylist.
//
// The store is an embedded SQLite database opened in WAL mode for
// concurrent reads. It holds the owner-scoped task table, the outbox
// queue of pending outbound mutations, a small key/value metadata table
// (pull cursors, one-time migration flags), the legacy backup table,
// and the plain gym/thesis log tables.
//
// Time values are stored as fixed-width UTC strings so that SQL string
// comparison and chronological order agree.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeLayout is RFC 3339 with fixed nanosecond width. Unlike
// time.RFC3339Nano it does not trim trailing zeros, so lexical order of
// stored strings matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the local SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a local store at the specified path.
//
// The database is created if missing, along with its parent directory.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL for concurrent readers during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'todo',
		priority TEXT NOT NULL DEFAULT 'normal',
		top_slot INTEGER,
		scheduled_date TEXT,
		original_scheduled_date TEXT,
		due_time TEXT,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		completed_at TEXT,
		last_notified_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_owner_status ON tasks(owner, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner_date ON tasks(owner, scheduled_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner_updated ON tasks(owner, updated_at);

	-- Outbox of pending outbound mutations, one FIFO per owner
	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		op_type TEXT NOT NULL,
		task_id TEXT NOT NULL,
		payload TEXT,
		enqueued_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_owner_enqueued ON outbox(owner, enqueued_at);

	-- Operations that exceeded the retry cap
	CREATE TABLE IF NOT EXISTS outbox_dead (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		op_type TEXT NOT NULL,
		task_id TEXT NOT NULL,
		payload TEXT,
		enqueued_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL,
		failed_at TEXT NOT NULL,
		last_error TEXT
	);

	-- Pull cursors and one-time migration flags
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Raw pre-migration snapshots, kept for manual recovery
	CREATE TABLE IF NOT EXISTS legacy_backup (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		raw TEXT NOT NULL,
		imported_at TEXT NOT NULL
	);

	-- Plain record storage, no conflict logic
	CREATE TABLE IF NOT EXISTS gym_logs (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		log_date TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS thesis_logs (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		log_date TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_gym_logs_owner_date ON gym_logs(owner, log_date);
	CREATE INDEX IF NOT EXISTS idx_thesis_logs_owner_date ON thesis_logs(owner, log_date);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// formatTime renders a time as a fixed-width UTC string for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored time string.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// stringToNull converts an optional string to a nullable SQL string,
// treating "" as NULL.
func stringToNull(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// intPtrToNull converts an optional int to a nullable SQL int.
func intPtrToNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// nullToIntPtr converts a nullable SQL int to an optional int.
func nullToIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
