// Package task provides the data structures shared by the local store,
// the sync engine, and the notification pipeline.
//
// Task records are flat and last-write-wins friendly: the whole record is
// the unit of conflict, and updated_at timestamps resolve which version of
// a record survives a merge.
package task

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Task statuses.
const (
	StatusTodo = "todo"
	StatusDone = "done"
)

// Task priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityNormal = "normal"
)

// DateLayout is the calendar-date format used for scheduled_date fields.
const DateLayout = "2006-01-02"

// TimeOfDayLayout is the format used for due_time fields.
const TimeOfDayLayout = "15:04"

// Task represents a single task record, owned by one account and replicated
// across that account's devices.
type Task struct {
	// ===== Core Identification =====
	ID    string `json:"id"`
	Owner string `json:"owner"`

	// ===== Task Content =====
	Title    string `json:"title"`
	Status   string `json:"status"`   // todo, done
	Priority string `json:"priority"` // high, medium, normal

	// TopSlot pins the task into one of the day's top-3 positions (1-3).
	// At most one task per owner may hold any given slot.
	TopSlot *int `json:"top_slot,omitempty"`

	// ===== Scheduling =====
	ScheduledDate string `json:"scheduled_date,omitempty"` // 2006-01-02, empty = unscheduled
	DueTime       string `json:"due_time,omitempty"`       // 15:04, empty = no due time
	Timezone      string `json:"timezone"`                 // IANA zone name, e.g. Europe/Berlin

	// OriginalScheduledDate preserves the date a task held before an
	// overdue task was moved to today, so the move can be undone.
	OriginalScheduledDate string `json:"original_scheduled_date,omitempty"`

	// ===== Timestamps (conflict resolution) =====
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewID returns a fresh random task or queue-operation identifier.
func NewID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("task: id generation failed: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Validate checks that the task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if t.Status != StatusTodo && t.Status != StatusDone {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	switch t.Priority {
	case PriorityHigh, PriorityMedium, PriorityNormal:
	default:
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if t.TopSlot != nil && (*t.TopSlot < 1 || *t.TopSlot > 3) {
		return fmt.Errorf("top_slot must be between 1 and 3 (got %d)", *t.TopSlot)
	}
	if t.ScheduledDate != "" {
		if _, err := time.Parse(DateLayout, t.ScheduledDate); err != nil {
			return fmt.Errorf("invalid scheduled_date %q: %w", t.ScheduledDate, err)
		}
	}
	if t.DueTime != "" {
		if _, err := time.Parse(TimeOfDayLayout, t.DueTime); err != nil {
			return fmt.Errorf("invalid due_time %q: %w", t.DueTime, err)
		}
	}
	// completed_at is set exactly when the task is done
	if (t.Status == StatusDone) != (t.CompletedAt != nil) {
		return fmt.Errorf("completed_at must be set iff status is done")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
// This keeps rows from older schema shapes (legacy import, partial remote
// rows) usable instead of rejected.
func (t *Task) SetDefaults() {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	// Repair the status/completed_at pairing rather than failing validation.
	if t.Status == StatusDone && t.CompletedAt == nil {
		done := t.UpdatedAt
		t.CompletedAt = &done
	}
	if t.Status != StatusDone {
		t.CompletedAt = nil
	}
}

// Normalize coerces a record from an untrusted source (remote pulls,
// feed events) into a valid one instead of rejecting it: unknown enum
// values fall back to their defaults, unparseable schedule parts are
// dropped, a missing title gets a placeholder. After Normalize, Validate
// passes for any record carrying an id and an owner.
func (t *Task) Normalize() {
	t.SetDefaults()
	if t.Status != StatusTodo && t.Status != StatusDone {
		t.Status = StatusTodo
	}
	switch t.Priority {
	case PriorityHigh, PriorityMedium, PriorityNormal:
	default:
		t.Priority = PriorityNormal
	}
	if t.Title == "" {
		t.Title = "(untitled)"
	}
	if t.TopSlot != nil && (*t.TopSlot < 1 || *t.TopSlot > 3) {
		t.TopSlot = nil
	}
	if t.ScheduledDate != "" {
		if _, err := time.Parse(DateLayout, t.ScheduledDate); err != nil {
			t.ScheduledDate = ""
		}
	}
	if t.DueTime != "" {
		if _, err := time.Parse(TimeOfDayLayout, t.DueTime); err != nil {
			t.DueTime = ""
		}
	}
}

// Location resolves the task's timezone, falling back to UTC for unknown
// or empty zone names.
func (t *Task) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DueInstant composes scheduled_date and due_time in the task's own
// timezone into an absolute instant. Returns false when either part
// is missing or unparseable.
func (t *Task) DueInstant() (time.Time, bool) {
	if t.ScheduledDate == "" || t.DueTime == "" {
		return time.Time{}, false
	}
	instant, err := time.ParseInLocation(
		DateLayout+" "+TimeOfDayLayout,
		t.ScheduledDate+" "+t.DueTime,
		t.Location(),
	)
	if err != nil {
		return time.Time{}, false
	}
	return instant, true
}

// Touch bumps updated_at to now, keeping it strictly greater than the
// previous value even when the clock has not advanced past it.
func (t *Task) Touch() {
	now := time.Now().UTC()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Nanosecond)
	}
	t.UpdatedAt = now
}

// Complete marks the task done and records the completion instant.
func (t *Task) Complete(at time.Time) {
	t.Status = StatusDone
	at = at.UTC()
	t.CompletedAt = &at
	t.Touch()
}

// Reopen returns a done task to the todo state.
func (t *Task) Reopen() {
	t.Status = StatusTodo
	t.CompletedAt = nil
	t.Touch()
}
