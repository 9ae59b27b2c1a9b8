// Package remote implements the client for the shared remote store.
//
// The remote store is a libSQL database reachable over the network (or a
// local file in tests). It holds the authoritative task table plus the
// push endpoint registry used by the notification pipeline.
//
// The contract mirrors the sync protocol exactly: task upsert is a
// full-row replace keyed by id, delete is scoped to the owner, and the
// pull select returns rows with updated_at strictly greater than the
// caller's cursor in ascending order, limited.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/daylist-app/daylist/internal/task"
)

// timeLayout matches the local store's fixed-width UTC format so SQL
// string comparison on updated_at agrees with chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Client wraps the libSQL connection to the remote store.
type Client struct {
	conn *sql.DB
	url  string
}

// Connect opens a connection to the remote store.
//
// The url may be a remote libsql:// URL (authToken appended when given)
// or a local file: URL, which tests use.
func Connect(url, authToken string) (*Client, error) {
	dsn := url
	if authToken != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + authToken
	}

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping remote store: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(2 * time.Minute)

	return &Client{conn: conn, url: url}, nil
}

// Close releases the remote connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// InitSchema creates the remote tables if they don't exist.
// Idempotent - safe to call multiple times.
func (c *Client) InitSchema(ctx context.Context) error {
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

	CREATE INDEX IF NOT EXISTS idx_tasks_owner_updated ON tasks(owner, updated_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, scheduled_date, due_time);

	CREATE TABLE IF NOT EXISTS push_endpoints (
		endpoint TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_push_endpoints_owner ON push_endpoints(owner);
	`
	if _, err := c.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", err)
	}
	return nil
}

const taskColumns = `id, owner, title, status, priority, top_slot,
	scheduled_date, original_scheduled_date, due_time, timezone,
	completed_at, last_notified_at, created_at, updated_at`

// UpsertTask replaces the full remote row for the task, keyed by id.
func (c *Client) UpsertTask(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		title = excluded.title,
		status = excluded.status,
		priority = excluded.priority,
		top_slot = excluded.top_slot,
		scheduled_date = excluded.scheduled_date,
		original_scheduled_date = excluded.original_scheduled_date,
		due_time = excluded.due_time,
		timezone = excluded.timezone,
		completed_at = excluded.completed_at,
		last_notified_at = excluded.last_notified_at,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`
	_, err := c.conn.ExecContext(ctx, query,
		t.ID,
		t.Owner,
		t.Title,
		t.Status,
		t.Priority,
		intPtrToNull(t.TopSlot),
		stringToNull(t.ScheduledDate),
		stringToNull(t.OriginalScheduledDate),
		stringToNull(t.DueTime),
		t.Timezone,
		timeToNullString(t.CompletedAt),
		timeToNullString(t.LastNotifiedAt),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert remote task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes a task by id, scoped to its owner.
// Returns nil if the task doesn't exist (idempotent).
func (c *Client) DeleteTask(ctx context.Context, owner, id string) error {
	_, err := c.conn.ExecContext(ctx,
		`DELETE FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("failed to delete remote task %s: %w", id, err)
	}
	return nil
}

// ChangesSince returns owner rows with updated_at strictly greater than
// the cursor, ascending, capped at limit.
func (c *Client) ChangesSince(ctx context.Context, owner string, cursor time.Time, limit int) ([]*task.Task, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE owner = ? AND updated_at > ?
		 ORDER BY updated_at ASC
		 LIMIT ?`, owner, formatTime(cursor), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote changes: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// GetTask retrieves a single remote task.
// Returns sql.ErrNoRows if the task is not found.
func (c *Client) GetTask(ctx context.Context, owner, id string) (*task.Task, error) {
	row := c.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	return scanTask(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var topSlot sql.NullInt64
	var schedDate, origDate, dueTime sql.NullString
	var completedAt, lastNotifiedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&t.ID,
		&t.Owner,
		&t.Title,
		&t.Status,
		&t.Priority,
		&topSlot,
		&schedDate,
		&origDate,
		&dueTime,
		&t.Timezone,
		&completedAt,
		&lastNotifiedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TopSlot = nullToIntPtr(topSlot)
	t.ScheduledDate = schedDate.String
	t.OriginalScheduledDate = origDate.String
	t.DueTime = dueTime.String
	t.CompletedAt = nullStringToTime(completedAt)
	t.LastNotifiedAt = nullStringToTime(lastNotifiedAt)

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for remote task %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for remote task %s: %w", t.ID, err)
	}

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote tasks: %w", err)
	}
	return tasks, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

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

func stringToNull(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func intPtrToNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullToIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
