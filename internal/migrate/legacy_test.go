package migrate

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/daylist-app/daylist/internal/store"
	"github.com/daylist-app/daylist/internal/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return st
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

const legacyInput = `{"id":"l1","title":"modern row","status":"todo","date":"2026-03-15","time":"17:00","timezone":"Europe/Berlin"}
{"id":"l2","name":"pre-rename row","done":true}
{"id":"l3","title":"bad schedule","date":"15.03.2026","time":"5pm"}
not json at all
{"id":"l5"}
`

func TestRunConvertsLegacyRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	result, err := Run(ctx, st, "alice", strings.NewReader(legacyInput), quietLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Converted != 4 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 4 converted / 1 skipped", result)
	}
	// Every line, malformed included, is backed up.
	if result.BackedUp != 5 {
		t.Errorf("backed up %d rows, want 5", result.BackedUp)
	}

	// Full modern row survives intact.
	modern, err := st.GetTask(ctx, "alice", "l1")
	if err != nil {
		t.Fatal(err)
	}
	if modern.ScheduledDate != "2026-03-15" || modern.DueTime != "17:00" || modern.Timezone != "Europe/Berlin" {
		t.Errorf("modern row = %+v", modern)
	}

	// Pre-rename shape: name aliases title, done maps to status.
	old, err := st.GetTask(ctx, "alice", "l2")
	if err != nil {
		t.Fatal(err)
	}
	if old.Title != "pre-rename row" {
		t.Errorf("title = %q", old.Title)
	}
	if old.Status != task.StatusDone || old.CompletedAt == nil {
		t.Errorf("status = %q completed_at = %v", old.Status, old.CompletedAt)
	}

	// Unparseable schedule parts are dropped, not fatal.
	bad, err := st.GetTask(ctx, "alice", "l3")
	if err != nil {
		t.Fatal(err)
	}
	if bad.ScheduledDate != "" || bad.DueTime != "" {
		t.Errorf("invalid schedule kept: date=%q time=%q", bad.ScheduledDate, bad.DueTime)
	}

	// Fully empty row gets the untitled fallback.
	empty, err := st.GetTask(ctx, "alice", "l5")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Title != "(untitled)" {
		t.Errorf("title = %q", empty.Title)
	}
}

func TestRunQueuesConvertedTasksForSync(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := Run(ctx, st, "alice", strings.NewReader(legacyInput), quietLogger()); err != nil {
		t.Fatal(err)
	}
	pending, err := st.PendingCount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if pending != 4 {
		t.Errorf("pending = %d, converted tasks should be queued for sync", pending)
	}
}

func TestRunIsOneTimePerOwner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := Run(ctx, st, "alice", strings.NewReader(legacyInput), quietLogger()); err != nil {
		t.Fatal(err)
	}
	_, err := Run(ctx, st, "alice", strings.NewReader(legacyInput), quietLogger())
	if !errors.Is(err, ErrAlreadyMigrated) {
		t.Errorf("second run err = %v, want ErrAlreadyMigrated", err)
	}

	// A different owner still gets to migrate.
	if _, err := Run(ctx, st, "bob", strings.NewReader(`{"id":"b1","title":"bob"}`), quietLogger()); err != nil {
		t.Errorf("bob's migration failed: %v", err)
	}
}

func TestRunEmptyInput(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	result, err := Run(ctx, st, "alice", strings.NewReader(""), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.Converted != 0 || result.BackedUp != 0 {
		t.Errorf("result = %+v", result)
	}

	// Even an empty migration counts as done.
	done, err := st.MigrationDone(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("migration flag not set after empty run")
	}
}
