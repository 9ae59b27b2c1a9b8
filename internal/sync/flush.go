package sync

import (
	"context"
	"fmt"

	"github.com/daylist-app/daylist/internal/feed"
	"github.com/daylist-app/daylist/internal/task"
)

// flushQueue replays the owner's pending operations against the remote
// store in enqueued order.
//
// Processing is strictly sequential: the first failure stops the batch
// so later operations can never apply out of order (a later upsert
// applied before an earlier delete is retried would resurrect the
// task). The failing operation's retry count is incremented and it
// stays at the head of the queue; once it exceeds the retry cap it
// moves to the dead-letter table and stops blocking the queue.
//
// Per-operation failures become retry bookkeeping, not errors: they are
// recorded on the status and the sync proceeds to the pull phase.
func (c *Coordinator) flushQueue(ctx context.Context, owner string, status *Status) error {
	ops, err := c.store.DrainBatch(ctx, owner, c.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.applyOp(ctx, op); err != nil {
			count, ferr := c.store.FailOp(ctx, op.ID)
			if ferr != nil {
				return ferr
			}
			c.cfg.Logger.Printf("Operation %s (%s %s) failed, retry %d: %v",
				op.ID, op.Type, op.TaskID, count, err)

			if count >= c.cfg.RetryCap {
				if derr := c.store.DeadLetter(ctx, op.ID, err); derr != nil {
					return derr
				}
				status.DeadLettered++
				c.cfg.Logger.Printf("Operation %s exceeded retry cap (%d), dead-lettered",
					op.ID, c.cfg.RetryCap)
			}

			status.FlushErr = err
			return nil
		}

		if err := c.store.AckOp(ctx, op.ID); err != nil {
			return err
		}
		status.Flushed++
		c.publishOp(ctx, op)
	}

	return nil
}

// applyOp applies one queued operation to the remote store.
func (c *Coordinator) applyOp(ctx context.Context, op *task.QueueOperation) error {
	switch op.Type {
	case task.OpUpsert:
		snapshot, err := op.Task()
		if err != nil {
			return err
		}
		return c.remote.UpsertTask(ctx, snapshot)
	case task.OpDelete:
		return c.remote.DeleteTask(ctx, op.Owner, op.TaskID)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// publishOp forwards a confirmed mutation to the change feed so other
// devices learn about it without waiting for their next pull. Feed
// delivery is best effort; a failure is logged and the sync continues.
func (c *Coordinator) publishOp(ctx context.Context, op *task.QueueOperation) {
	if c.publisher == nil {
		return
	}

	var ev feed.Event
	switch op.Type {
	case task.OpUpsert:
		snapshot, err := op.Task()
		if err != nil {
			c.cfg.Logger.Printf("Skipping feed publish for %s: %v", op.ID, err)
			return
		}
		ev = feed.Event{Type: feed.EventUpdate, Owner: op.Owner, New: snapshot}
	case task.OpDelete:
		ev = feed.Event{
			Type:  feed.EventDelete,
			Owner: op.Owner,
			Old:   &task.Task{ID: op.TaskID, Owner: op.Owner},
		}
	default:
		return
	}

	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.cfg.Logger.Printf("Feed publish failed for %s: %v", op.ID, err)
	}
}
