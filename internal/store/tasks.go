package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daylist-app/daylist/internal/task"
)

// ErrNotFound is returned when a task does not exist in the store.
var ErrNotFound = errors.New("task not found")

const taskColumns = `id, owner, title, status, priority, top_slot,
	scheduled_date, original_scheduled_date, due_time, timezone,
	completed_at, last_notified_at, created_at, updated_at`

// Put writes a task record. When enqueue is true a matching upsert
// operation is appended to the outbox in the same transaction, so the
// write and its outbound mutation cannot diverge.
//
// Put is a local mutation: it bumps updated_at to a strictly greater
// value and enforces the top-3 slot uniqueness invariant by clearing the
// slot on any other task of the same owner that holds it.
func (s *Store) Put(ctx context.Context, t *task.Task, enqueue bool) error {
	t.SetDefaults()
	t.Touch()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if t.TopSlot != nil {
		// A slot has a single holder per owner. Clearing the previous
		// holder counts as a write: its updated_at is bumped and, when
		// enqueueing, its cleared snapshot is queued so the clear
		// replicates instead of leaving other devices with two holders.
		rows, err := tx.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM tasks
			 WHERE owner = ? AND top_slot = ? AND id != ?`,
			t.Owner, *t.TopSlot, t.ID)
		if err != nil {
			return fmt.Errorf("failed to load top slot holder: %w", err)
		}
		holders, err := scanTasks(rows)
		rows.Close()
		if err != nil {
			return err
		}
		for _, holder := range holders {
			holder.TopSlot = nil
			holder.UpdatedAt = t.UpdatedAt
			if err := upsertTaskTx(ctx, tx, holder); err != nil {
				return err
			}
			if !enqueue {
				continue
			}
			op, err := task.NewUpsertOp(holder)
			if err != nil {
				return err
			}
			if err := insertOpTx(ctx, tx, op); err != nil {
				return err
			}
		}
	}

	if err := upsertTaskTx(ctx, tx, t); err != nil {
		return err
	}

	if enqueue {
		op, err := task.NewUpsertOp(t)
		if err != nil {
			return err
		}
		if err := insertOpTx(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task write: %w", err)
	}
	return nil
}

// Delete removes a task record. When enqueue is true a delete operation
// is appended to the outbox in the same transaction. The deletion leaves
// no tombstone behind; a concurrent remote edit can resurrect the task
// on a later pull.
func (s *Store) Delete(ctx context.Context, owner, id string, enqueue bool) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE owner = ? AND id = ?`, owner, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	if enqueue {
		if err := insertOpTx(ctx, tx, task.NewDeleteOp(owner, id)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task delete: %w", err)
	}
	return nil
}

// MergeIncoming applies remote records with the last-write-wins rule:
// an incoming record replaces the current one iff its updated_at is
// strictly greater. A missing current record always accepts the incoming
// one. Ties keep the existing record, so re-merging the same snapshot is
// a no-op. Incoming records are normalized rather than rejected; only
// rows lacking an id or owner are skipped. Returns the number of
// records applied.
func (s *Store) MergeIncoming(ctx context.Context, tasks []*task.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, incoming := range tasks {
		// Rows from older schema shapes are normalized, not rejected; a
		// single bad row must never wedge the cursor for the whole owner.
		// A row with no identity cannot be stored at all and is skipped.
		if incoming.ID == "" || incoming.Owner == "" {
			continue
		}
		incoming.Normalize()

		var currentUpdated string
		err := tx.QueryRowContext(ctx,
			`SELECT updated_at FROM tasks WHERE id = ?`, incoming.ID).Scan(&currentUpdated)
		switch {
		case err == sql.ErrNoRows:
			// absent: always accept
		case err != nil:
			return applied, fmt.Errorf("failed to read current task %s: %w", incoming.ID, err)
		default:
			current, perr := parseTime(currentUpdated)
			if perr != nil {
				return applied, fmt.Errorf("corrupt updated_at for task %s: %w", incoming.ID, perr)
			}
			if !incoming.UpdatedAt.After(current) {
				continue
			}
		}

		if err := upsertTaskTx(ctx, tx, incoming); err != nil {
			return applied, err
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return applied, fmt.Errorf("failed to commit merge: %w", err)
	}
	return applied, nil
}

// upsertTaskTx writes the full task row, replacing any existing record.
func upsertTaskTx(ctx context.Context, tx *sql.Tx, t *task.Task) error {
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
	_, err := tx.ExecContext(ctx, query,
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
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a single task by owner and id.
func (s *Store) GetTask(ctx context.Context, owner, id string) (*task.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// ListFilter configures the ListTasks query. Zero values mean "no filter".
type ListFilter struct {
	Status        string // todo, done
	ScheduledDate string // exact calendar date
	UpdatedAfter  time.Time
	Limit         int
}

// ListTasks retrieves all tasks for an owner matching the filter,
// ordered by updated_at ascending.
func (s *Store) ListTasks(ctx context.Context, owner string, filter ListFilter) ([]*task.Task, error) {
	conditions := []string{"owner = ?"}
	args := []any{owner}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ScheduledDate != "" {
		conditions = append(conditions, "scheduled_date = ?")
		args = append(args, filter.ScheduledDate)
	}
	if !filter.UpdatedAfter.IsZero() {
		conditions = append(conditions, "updated_at > ?")
		args = append(args, formatTime(filter.UpdatedAfter))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY updated_at ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// rowScanner covers both *sql.Row and *sql.Rows.
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
		return nil, fmt.Errorf("corrupt created_at for task %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for task %s: %w", t.ID, err)
	}

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}
