package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/daylist-app/daylist/internal/task"
)

// PushEndpoint is one registered push delivery destination: the endpoint
// URL plus the two Web Push delivery keys.
type PushEndpoint struct {
	Endpoint  string    `json:"endpoint"`
	Owner     string    `json:"owner"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveEndpoint registers a push endpoint for an owner. Re-subscribing an
// existing endpoint refreshes its keys.
func (c *Client) SaveEndpoint(ctx context.Context, ep *PushEndpoint) error {
	if ep.Endpoint == "" || ep.Owner == "" {
		return fmt.Errorf("endpoint and owner are required")
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	_, err := c.conn.ExecContext(ctx,
		`INSERT INTO push_endpoints (endpoint, owner, p256dh, auth, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
			owner = excluded.owner,
			p256dh = excluded.p256dh,
			auth = excluded.auth`,
		ep.Endpoint, ep.Owner, ep.P256dh, ep.Auth, formatTime(ep.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save push endpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint removes a push endpoint, either on explicit unsubscribe
// or after a permanent delivery failure.
// Returns nil if the endpoint doesn't exist (idempotent).
func (c *Client) DeleteEndpoint(ctx context.Context, endpoint string) error {
	_, err := c.conn.ExecContext(ctx,
		`DELETE FROM push_endpoints WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete push endpoint: %w", err)
	}
	return nil
}

// Endpoints returns all push endpoints registered for an owner.
func (c *Client) Endpoints(ctx context.Context, owner string) ([]*PushEndpoint, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT endpoint, owner, p256dh, auth, created_at
		 FROM push_endpoints WHERE owner = ? ORDER BY created_at ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query push endpoints: %w", err)
	}
	defer rows.Close()

	var eps []*PushEndpoint
	for rows.Next() {
		var ep PushEndpoint
		var createdAt string
		if err := rows.Scan(&ep.Endpoint, &ep.Owner, &ep.P256dh, &ep.Auth, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan push endpoint: %w", err)
		}
		if ep.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at for endpoint: %w", err)
		}
		eps = append(eps, &ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating push endpoints: %w", err)
	}
	return eps, nil
}

// DueCandidates returns open tasks with both a scheduled date and a due
// time whose scheduled_date falls inside [dateFrom, dateTo].
//
// The date range is deliberately generous: composing the due instant
// needs the task's own timezone, which SQL cannot do, so the scanner
// over-selects by calendar date and filters precisely in Go. A one-day
// margin on either side of today covers every UTC offset.
func (c *Client) DueCandidates(ctx context.Context, dateFrom, dateTo string) ([]*task.Task, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ?
		   AND scheduled_date IS NOT NULL
		   AND due_time IS NOT NULL
		   AND scheduled_date >= ? AND scheduled_date <= ?
		 ORDER BY scheduled_date ASC, due_time ASC`,
		task.StatusTodo, dateFrom, dateTo)
	if err != nil {
		return nil, fmt.Errorf("failed to query due candidates: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkNotified sets last_notified_at = now and bumps updated_at for
// exactly the given task ids. Repeatable: a second call refreshes the
// timestamp and has no other effect.
func (c *Client) MarkNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	now := formatTime(time.Now())
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, now, now)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := c.conn.ExecContext(ctx,
		`UPDATE tasks SET last_notified_at = ?, updated_at = ?
		 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark tasks notified: %w", err)
	}
	return nil
}
