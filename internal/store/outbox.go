package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/daylist-app/daylist/internal/task"
)

// DefaultBatchSize is the per-flush cap on drained operations.
const DefaultBatchSize = 100

// EnqueueUpsert appends an upsert operation carrying a snapshot of the
// task as it is right now.
func (s *Store) EnqueueUpsert(ctx context.Context, t *task.Task) error {
	op, err := task.NewUpsertOp(t)
	if err != nil {
		return err
	}
	return s.insertOp(ctx, op)
}

// EnqueueDelete appends a delete operation for the given task id.
func (s *Store) EnqueueDelete(ctx context.Context, owner, taskID string) error {
	return s.insertOp(ctx, task.NewDeleteOp(owner, taskID))
}

func (s *Store) insertOp(ctx context.Context, op *task.QueueOperation) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertOpTx(ctx, tx, op); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return nil
}

func insertOpTx(ctx context.Context, tx *sql.Tx, op *task.QueueOperation) error {
	var payload sql.NullString
	if op.Payload != nil {
		payload = sql.NullString{String: string(op.Payload), Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id, owner, op_type, task_id, payload, enqueued_at, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Owner, op.Type, op.TaskID, payload,
		formatTime(op.EnqueuedAt), op.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation %s: %w", op.ID, err)
	}
	return nil
}

// DrainBatch returns up to limit pending operations for the owner in
// ascending enqueued_at order. Operations are not removed; the caller
// acks or fails each one individually.
func (s *Store) DrainBatch(ctx context.Context, owner string, limit int) ([]*task.QueueOperation, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, owner, op_type, task_id, payload, enqueued_at, retry_count
		 FROM outbox WHERE owner = ?
		 ORDER BY enqueued_at ASC, rowid ASC
		 LIMIT ?`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to drain outbox: %w", err)
	}
	defer rows.Close()

	var ops []*task.QueueOperation
	for rows.Next() {
		var op task.QueueOperation
		var payload sql.NullString
		var enqueuedAt string
		if err := rows.Scan(&op.ID, &op.Owner, &op.Type, &op.TaskID,
			&payload, &enqueuedAt, &op.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		if op.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
			return nil, fmt.Errorf("corrupt enqueued_at for operation %s: %w", op.ID, err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox: %w", err)
	}
	return ops, nil
}

// AckOp removes a confirmed operation from the queue.
func (s *Store) AckOp(ctx context.Context, opID string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM outbox WHERE id = ?`, opID); err != nil {
		return fmt.Errorf("failed to ack operation %s: %w", opID, err)
	}
	return nil
}

// FailOp increments the retry count of a failed operation, leaving it at
// the head of the queue for the next flush. Returns the new count.
func (s *Store) FailOp(ctx context.Context, opID string) (int, error) {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1 WHERE id = ?`, opID); err != nil {
		return 0, fmt.Errorf("failed to record retry for operation %s: %w", opID, err)
	}
	var count int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT retry_count FROM outbox WHERE id = ?`, opID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read retry count for operation %s: %w", opID, err)
	}
	return count, nil
}

// DeadLetter moves an operation that exhausted its retries out of the
// queue so it stops blocking later operations. The operation and the
// final error are preserved in outbox_dead for inspection.
func (s *Store) DeadLetter(ctx context.Context, opID string, lastErr error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errText := ""
	if lastErr != nil {
		errText = lastErr.Error()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_dead (id, owner, op_type, task_id, payload, enqueued_at, retry_count, failed_at, last_error)
		 SELECT id, owner, op_type, task_id, payload, enqueued_at, retry_count, ?, ?
		 FROM outbox WHERE id = ?`,
		formatTime(time.Now()), errText, opID)
	if err != nil {
		return fmt.Errorf("failed to dead-letter operation %s: %w", opID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %s not found in outbox", opID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, opID); err != nil {
		return fmt.Errorf("failed to remove dead-lettered operation %s: %w", opID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead-letter: %w", err)
	}
	return nil
}

// PendingCount returns the number of queued operations for an owner.
func (s *Store) PendingCount(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// DeadCount returns the number of dead-lettered operations for an owner.
func (s *Store) DeadCount(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_dead WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead operations: %w", err)
	}
	return count, nil
}
