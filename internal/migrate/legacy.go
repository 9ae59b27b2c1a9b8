// Package migrate imports the pre-sync legacy task format.
//
// The migration runs at most once per owner: a meta flag records
// completion. Every raw input line is preserved in the legacy backup
// table before conversion, so the original data survives a bad import.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/daylist-app/daylist/internal/store"
	"github.com/daylist-app/daylist/internal/task"
)

// ErrAlreadyMigrated is returned when the owner's migration flag is set.
var ErrAlreadyMigrated = fmt.Errorf("legacy migration already completed")

// legacyTask tolerates the shapes the old format went through. Missing
// fields are normalized with defaults rather than rejected.
type legacyTask struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Name     string `json:"name"` // pre-rename alias of title
	Done     bool   `json:"done"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Created  string `json:"created_at"`
	Updated  string `json:"updated_at"`
}

// Result summarizes a migration run.
type Result struct {
	Converted int
	Skipped   int
	BackedUp  int
}

// Run imports legacy JSONL from r for the given owner. Each line is one
// legacy task. Tasks are written through the normal local write path
// with enqueue so they propagate to the remote on the next sync.
func Run(ctx context.Context, st *store.Store, owner string, r io.Reader, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}

	done, err := st.MigrationDone(ctx, owner)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, ErrAlreadyMigrated
	}

	result := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		if err := st.BackupLegacyRow(ctx, owner, line); err != nil {
			return nil, err
		}
		result.BackedUp++

		var legacy legacyTask
		if err := json.Unmarshal([]byte(line), &legacy); err != nil {
			logger.Printf("Warning: skipping malformed legacy row at line %d: %v", lineNum, err)
			result.Skipped++
			continue
		}

		t := normalize(&legacy, owner)
		if err := st.Put(ctx, t, true); err != nil {
			logger.Printf("Warning: failed to import legacy task at line %d: %v", lineNum, err)
			result.Skipped++
			continue
		}
		result.Converted++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read legacy input: %w", err)
	}

	if err := st.MarkMigrationDone(ctx, owner); err != nil {
		return nil, err
	}

	logger.Printf("Legacy migration complete for %s: converted=%d skipped=%d backed_up=%d",
		owner, result.Converted, result.Skipped, result.BackedUp)
	return result, nil
}

// normalize converts one legacy row to a Task, defaulting everything
// the old format did not carry.
func normalize(legacy *legacyTask, owner string) *task.Task {
	t := &task.Task{
		ID:            legacy.ID,
		Owner:         owner,
		Title:         legacy.Title,
		Status:        legacy.Status,
		Priority:      legacy.Priority,
		ScheduledDate: legacy.Date,
		DueTime:       legacy.Time,
		Timezone:      legacy.Timezone,
	}
	if t.Title == "" {
		t.Title = legacy.Name
	}
	if t.Title == "" {
		t.Title = "(untitled)"
	}
	if t.Status == "" && legacy.Done {
		t.Status = task.StatusDone
	}
	switch t.Priority {
	case task.PriorityHigh, task.PriorityMedium, task.PriorityNormal:
	default:
		t.Priority = task.PriorityNormal
	}
	if t.ScheduledDate != "" {
		if _, err := time.Parse(task.DateLayout, t.ScheduledDate); err != nil {
			t.ScheduledDate = ""
		}
	}
	if t.DueTime != "" {
		if _, err := time.Parse(task.TimeOfDayLayout, t.DueTime); err != nil {
			t.DueTime = ""
		}
	}
	if ts, err := time.Parse(time.RFC3339, legacy.Created); err == nil {
		t.CreatedAt = ts
	}
	t.SetDefaults()
	return t
}
