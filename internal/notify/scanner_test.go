package notify

import (
	"context"
	"testing"
	"time"

	"github.com/daylist-app/daylist/internal/task"
)

type fakeSource struct {
	tasks    []*task.Task
	dateFrom string
	dateTo   string
}

func (s *fakeSource) DueCandidates(ctx context.Context, dateFrom, dateTo string) ([]*task.Task, error) {
	s.dateFrom, s.dateTo = dateFrom, dateTo
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusTodo && t.ScheduledDate >= dateFrom && t.ScheduledDate <= dateTo {
			out = append(out, t)
		}
	}
	return out, nil
}

// dueAt builds an open task whose due instant (in loc) is the given time.
func dueAt(owner string, at time.Time, zone string) *task.Task {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	t := &task.Task{
		Owner:         owner,
		Title:         "due task",
		ScheduledDate: local.Format(task.DateLayout),
		DueTime:       local.Format(task.TimeOfDayLayout),
		Timezone:      zone,
	}
	t.SetDefaults()
	return t
}

func TestScanWindowBounds(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	inWindow := dueAt("alice", now.Add(2*time.Minute), "UTC")
	atNow := dueAt("alice", now, "UTC")
	past := dueAt("alice", now.Add(-1*time.Minute), "UTC")
	atEnd := dueAt("alice", now.Add(window), "UTC") // end is exclusive
	beyond := dueAt("alice", now.Add(time.Hour), "UTC")

	src := &fakeSource{tasks: []*task.Task{inWindow, atNow, past, atEnd, beyond}}
	due, err := Scan(context.Background(), src, now, window)
	if err != nil {
		t.Fatal(err)
	}

	got := map[string]bool{}
	for _, d := range due {
		got[d.Task.ID] = true
	}
	if !got[inWindow.ID] || !got[atNow.ID] {
		t.Error("tasks inside [now, now+window) missing from scan")
	}
	if got[past.ID] {
		t.Error("past-due task selected")
	}
	if got[atEnd.ID] {
		t.Error("task at the exclusive window end selected")
	}
	if got[beyond.ID] {
		t.Error("task beyond the window selected")
	}
}

func TestScanComposesInstantInTaskZone(t *testing.T) {
	// 12:00 UTC on March 15 is 21:00 in Tokyo; a Tokyo task scheduled
	// for 21:02 local time is two minutes away, not nine hours.
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	tokyo := &task.Task{
		Owner:         "alice",
		Title:         "tokyo task",
		ScheduledDate: "2026-03-15",
		DueTime:       "21:02",
		Timezone:      "Asia/Tokyo",
	}
	tokyo.SetDefaults()

	src := &fakeSource{tasks: []*task.Task{tokyo}}
	due, err := Scan(context.Background(), src, now, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due tasks, want 1", len(due))
	}
	want := now.Add(2 * time.Minute)
	if !due[0].DueInstant.Equal(want) {
		t.Errorf("due instant = %v, want %v", due[0].DueInstant.UTC(), want)
	}
}

func TestScanOverSelectsCalendarDates(t *testing.T) {
	// Near the UTC day boundary the candidate date range must reach into
	// the neighboring days so extreme offsets are not missed.
	now := time.Date(2026, 3, 15, 23, 50, 0, 0, time.UTC)
	// 23:55 UTC on the 15th is already 08:55 on the 16th in Tokyo.
	tokyo := dueAt("alice", now.Add(5*time.Minute), "Asia/Tokyo")
	if tokyo.ScheduledDate != "2026-03-16" {
		t.Fatalf("fixture date = %s, expected next-day date", tokyo.ScheduledDate)
	}

	src := &fakeSource{tasks: []*task.Task{tokyo}}
	due, err := Scan(context.Background(), src, now, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due tasks, want 1 (next-day candidate missed)", len(due))
	}
	// The margin is a day either side of [now, now+window]; the window
	// end here crosses into March 16.
	if src.dateFrom != "2026-03-14" || src.dateTo != "2026-03-17" {
		t.Errorf("candidate range = [%s, %s]", src.dateFrom, src.dateTo)
	}
}

func TestScanLongWindowReachesPastTomorrow(t *testing.T) {
	// The candidate date range must grow with the window; a 3-day
	// look-ahead covers tasks scheduled beyond tomorrow.
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	window := 72 * time.Hour
	dayAfterTomorrow := dueAt("alice", now.Add(50*time.Hour), "UTC")
	if dayAfterTomorrow.ScheduledDate != "2026-03-17" {
		t.Fatalf("fixture date = %s", dayAfterTomorrow.ScheduledDate)
	}

	src := &fakeSource{tasks: []*task.Task{dayAfterTomorrow}}
	due, err := Scan(context.Background(), src, now, window)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due tasks, want 1 (range capped short of the window end)", len(due))
	}
	if src.dateTo != "2026-03-19" {
		t.Errorf("dateTo = %s, want a day past the window end", src.dateTo)
	}
}

func TestScanSkipsAlreadyNotified(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	notified := dueAt("alice", now.Add(2*time.Minute), "UTC")
	mark := now.Add(2 * time.Minute) // notified at exactly the due instant
	notified.LastNotifiedAt = &mark

	fresh := dueAt("alice", now.Add(3*time.Minute), "UTC")

	src := &fakeSource{tasks: []*task.Task{notified, fresh}}
	due, err := Scan(context.Background(), src, now, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].Task.ID != fresh.ID {
		t.Errorf("scan returned %d tasks, want only the un-notified one", len(due))
	}
}

func TestScanReselectsAfterReschedule(t *testing.T) {
	// Notified for an earlier instant, then rescheduled later: the old
	// mark no longer covers the new instant, so the task is selectable
	// again.
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	rescheduled := dueAt("alice", now.Add(2*time.Minute), "UTC")
	old := now.Add(-time.Hour)
	rescheduled.LastNotifiedAt = &old

	src := &fakeSource{tasks: []*task.Task{rescheduled}}
	due, err := Scan(context.Background(), src, now, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Errorf("rescheduled task not reselected, got %d", len(due))
	}
}

func TestScanSortsByDueInstant(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	later := dueAt("alice", now.Add(4*time.Minute), "UTC")
	sooner := dueAt("alice", now.Add(1*time.Minute), "UTC")
	middle := dueAt("bob", now.Add(2*time.Minute), "UTC")

	src := &fakeSource{tasks: []*task.Task{later, sooner, middle}}
	due, err := Scan(context.Background(), src, now, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 3 {
		t.Fatalf("got %d tasks", len(due))
	}
	for i := 1; i < len(due); i++ {
		if due[i].DueInstant.Before(due[i-1].DueInstant) {
			t.Errorf("scan result not sorted at index %d", i)
		}
	}
}
