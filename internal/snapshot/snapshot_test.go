package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

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

func seedAccount(t *testing.T, st *store.Store, owner string) []*task.Task {
	t.Helper()
	ctx := context.Background()

	one := &task.Task{Owner: owner, Title: "scheduled", ScheduledDate: "2026-03-15", DueTime: "17:00", Timezone: "Europe/Berlin"}
	one.SetDefaults()
	two := &task.Task{Owner: owner, Title: "finished"}
	two.SetDefaults()
	two.Complete(time.Now())

	for _, tk := range []*task.Task{one, two} {
		if err := st.Put(ctx, tk, false); err != nil {
			t.Fatal(err)
		}
	}

	if err := st.PutLog(ctx, store.LogGym, &store.LogRecord{Owner: owner, LogDate: "2026-03-14", Content: "deadlifts"}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutLog(ctx, store.LogThesis, &store.LogRecord{Owner: owner, LogDate: "2026-03-14", Content: "wrote intro"}); err != nil {
		t.Fatal(err)
	}
	return []*task.Task{one, two}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, src, "alice")

	snap, err := Export(ctx, src, "alice")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := snap.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	dst := newTestStore(t)
	stats, err := Import(ctx, dst, "alice", data)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.TasksApplied != 2 || stats.GymLogs != 1 || stats.ThesisLogs != 1 {
		t.Errorf("stats = %+v", stats)
	}

	// Ids and timestamps survive exactly; import is a restore, not an
	// edit.
	want, err := src.ListTasks(ctx, "alice", store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := dst.ListTasks(ctx, "alice", store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("restored tasks differ (-want +got):\n%s", diff)
	}

	// Nothing was queued for sync.
	pending, err := dst.PendingCount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("import queued %d outbox ops, want 0", pending)
	}
}

func TestReimportIsNoOp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "alice")

	snap, err := Export(ctx, st, "alice")
	if err != nil {
		t.Fatal(err)
	}
	data, err := snap.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	stats, err := Import(ctx, st, "alice", data)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TasksApplied != 0 {
		t.Errorf("re-import applied %d tasks, want 0 (ties keep existing)", stats.TasksApplied)
	}
}

func TestImportDoesNotClobberNewerLocal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	tasks := seedAccount(t, st, "alice")

	snap, err := Export(ctx, st, "alice")
	if err != nil {
		t.Fatal(err)
	}
	data, err := snap.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	// Edit after the export.
	edited := tasks[0]
	edited.Title = "edited after export"
	if err := st.Put(ctx, edited, false); err != nil {
		t.Fatal(err)
	}

	if _, err := Import(ctx, st, "alice", data); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetTask(ctx, "alice", edited.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "edited after export" {
		t.Errorf("older snapshot overwrote newer edit: title = %q", got.Title)
	}
}

func TestImportRehomesOwner(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, src, "alice")

	snap, err := Export(ctx, src, "alice")
	if err != nil {
		t.Fatal(err)
	}
	data, err := snap.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	dst := newTestStore(t)
	if _, err := Import(ctx, dst, "bob", data); err != nil {
		t.Fatal(err)
	}

	bobs, err := dst.ListTasks(ctx, "bob", store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bobs) != 2 {
		t.Errorf("bob has %d tasks, want 2", len(bobs))
	}
	alices, err := dst.ListTasks(ctx, "alice", store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(alices) != 0 {
		t.Errorf("alice has %d tasks in bob's restore, want 0", len(alices))
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	st := newTestStore(t)
	if _, err := Import(context.Background(), st, "alice", []byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}
