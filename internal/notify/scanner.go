// Package notify implements the due-task notification pipeline: a
// periodic scan for tasks whose due instant falls in an upcoming
// window, fan-out push delivery to every registered endpoint, and an
// idempotent bulk mark-notified step.
//
// Delivery is deliberately at-least-once. The mark-notified step runs
// once after the whole batch; a crash between delivery and the mark
// causes a duplicate notification on the following run.
package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/daylist-app/daylist/internal/task"
)

// DefaultWindowMinutes is the scan look-ahead when the trigger does not
// specify one.
const DefaultWindowMinutes = 5

// Source is the slice of the remote store the scanner reads from.
type Source interface {
	// DueCandidates returns open tasks with a scheduled date and due
	// time whose scheduled_date falls inside [dateFrom, dateTo].
	DueCandidates(ctx context.Context, dateFrom, dateTo string) ([]*task.Task, error)
}

// DueTask pairs a task with its composed due instant.
type DueTask struct {
	Task       *task.Task
	DueInstant time.Time
}

// Scan selects tasks due in [now, now+window), ordered by due instant
// ascending. The window faces forward: a task is picked up in the runs
// leading up to its due instant, never after the instant has passed, so
// a task that was already overdue when it was created stays silent.
//
// The due instant is the task's scheduled date and due time interpreted
// in the task's own timezone. A task is eligible only if it has never
// been notified or was last notified before the current due instant;
// editing the date or time to a strictly later instant therefore makes
// a previously-notified task selectable again, while the same unchanged
// instant is never notified twice.
func Scan(ctx context.Context, src Source, now time.Time, window time.Duration) ([]*DueTask, error) {
	end := now.Add(window)

	// Over-select by calendar date: a day's margin on either side of
	// [now, end] covers every UTC offset a task timezone can introduce.
	dateFrom := now.UTC().AddDate(0, 0, -1).Format(task.DateLayout)
	dateTo := end.UTC().AddDate(0, 0, 1).Format(task.DateLayout)

	candidates, err := src.DueCandidates(ctx, dateFrom, dateTo)
	if err != nil {
		return nil, fmt.Errorf("failed to load due candidates: %w", err)
	}

	var due []*DueTask
	for _, t := range candidates {
		instant, ok := t.DueInstant()
		if !ok {
			continue
		}
		if instant.Before(now) || !instant.Before(end) {
			continue
		}
		if t.LastNotifiedAt != nil && !t.LastNotifiedAt.Before(instant) {
			continue
		}
		due = append(due, &DueTask{Task: t, DueInstant: instant})
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].DueInstant.Before(due[j].DueInstant)
	})
	return due, nil
}
