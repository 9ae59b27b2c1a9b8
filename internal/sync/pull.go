package sync

import (
	"context"
)

// pullUpdates fetches remote rows newer than the owner's cursor and
// merges them into the local store with the last-write-wins rule.
//
// The cursor is the maximum updated_at observed so far. The request asks
// for strictly greater rows, ascending, capped at PullLimit; the cursor
// advances to the batch's maximum updated_at, but only when the batch is
// non-empty. A backlog larger than the cap drains across repeated
// trigger cycles rather than in a loop here.
func (c *Coordinator) pullUpdates(ctx context.Context, owner string, status *Status) error {
	cursor, err := c.store.Cursor(ctx, owner)
	if err != nil {
		return err
	}

	rows, err := c.remote.ChangesSince(ctx, owner, cursor, c.cfg.PullLimit)
	if err != nil {
		return err
	}
	status.Pulled = len(rows)
	if len(rows) == 0 {
		return nil
	}

	applied, err := c.store.MergeIncoming(ctx, rows)
	if err != nil {
		return err
	}
	status.Applied = applied

	// Rows arrive in ascending updated_at order; the last one carries
	// the batch maximum.
	next := rows[len(rows)-1].UpdatedAt
	if next.After(cursor) {
		if err := c.store.SetCursor(ctx, owner, next); err != nil {
			return err
		}
	}
	return nil
}
