package store

import (
	"context"
	"fmt"
	"time"

	"github.com/daylist-app/daylist/internal/task"
)

// LogRecord is a plain gym or thesis log entry. These are simple record
// storage with no conflict logic: last writer simply overwrites.
type LogRecord struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	LogDate   string    `json:"log_date"` // 2006-01-02
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Log kinds map directly to table names; validated before interpolation.
const (
	LogGym    = "gym_logs"
	LogThesis = "thesis_logs"
)

func validLogKind(kind string) error {
	if kind != LogGym && kind != LogThesis {
		return fmt.Errorf("unknown log kind %q", kind)
	}
	return nil
}

// PutLog inserts or replaces a log record.
func (s *Store) PutLog(ctx context.Context, kind string, rec *LogRecord) error {
	if err := validLogKind(kind); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = task.NewID()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO `+kind+` (id, owner, log_date, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			log_date = excluded.log_date,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Owner, rec.LogDate, rec.Content,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to write %s record %s: %w", kind, rec.ID, err)
	}
	return nil
}

// ListLogs returns all log records of one kind for an owner, ordered by
// log date ascending.
func (s *Store) ListLogs(ctx context.Context, kind, owner string) ([]*LogRecord, error) {
	if err := validLogKind(kind); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, owner, log_date, content, created_at, updated_at
		 FROM `+kind+` WHERE owner = ? ORDER BY log_date ASC, id ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var recs []*LogRecord
	for rows.Next() {
		var rec LogRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.LogDate, &rec.Content,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", kind, err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at for %s record %s: %w", kind, rec.ID, err)
		}
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("corrupt updated_at for %s record %s: %w", kind, rec.ID, err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", kind, err)
	}
	return recs, nil
}

// DeleteLog removes a log record.
func (s *Store) DeleteLog(ctx context.Context, kind, owner, id string) error {
	if err := validLogKind(kind); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM `+kind+` WHERE owner = ? AND id = ?`, owner, id); err != nil {
		return fmt.Errorf("failed to delete %s record %s: %w", kind, id, err)
	}
	return nil
}
