package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Queue operation types.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// QueueOperation is one pending outbound mutation in the outbox queue.
//
// The payload is a value snapshot of the task at enqueue time, not a live
// reference: later local edits do not retroactively change an operation
// that has not been flushed yet.
type QueueOperation struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Type       string    `json:"type"` // upsert, delete
	TaskID     string    `json:"task_id"`
	Payload    []byte    `json:"payload,omitempty"` // JSON Task snapshot, nil for deletes
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

// NewUpsertOp snapshots the given task into a fresh upsert operation.
func NewUpsertOp(t *Task) (*QueueOperation, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot task %s: %w", t.ID, err)
	}
	return &QueueOperation{
		ID:         NewID(),
		Owner:      t.Owner,
		Type:       OpUpsert,
		TaskID:     t.ID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// NewDeleteOp creates a fresh delete operation for the given task id.
func NewDeleteOp(owner, taskID string) *QueueOperation {
	return &QueueOperation{
		ID:         NewID(),
		Owner:      owner,
		Type:       OpDelete,
		TaskID:     taskID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Task decodes the snapshot payload of an upsert operation.
func (op *QueueOperation) Task() (*Task, error) {
	if op.Type != OpUpsert {
		return nil, fmt.Errorf("operation %s is a %s, not an upsert", op.ID, op.Type)
	}
	var t Task
	if err := json.Unmarshal(op.Payload, &t); err != nil {
		return nil, fmt.Errorf("failed to decode payload of operation %s: %w", op.ID, err)
	}
	return &t, nil
}
