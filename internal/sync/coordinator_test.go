package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sort"
	stdsync "sync"
	"testing"
	"time"

	"github.com/daylist-app/daylist/internal/feed"
	"github.com/daylist-app/daylist/internal/store"
	"github.com/daylist-app/daylist/internal/task"
)

// fakeRemote is an in-memory Remote that can be told to fail.
type fakeRemote struct {
	mu    stdsync.Mutex
	tasks map[string]*task.Task

	failUpserts bool
	failTaskID  string // fail only ops for this task
	upsertCalls int
	deleteCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{tasks: make(map[string]*task.Task)}
}

func (r *fakeRemote) UpsertTask(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertCalls++
	if r.failUpserts || (r.failTaskID != "" && r.failTaskID == t.ID) {
		return errors.New("remote unavailable")
	}
	copied := *t
	r.tasks[t.ID] = &copied
	return nil
}

func (r *fakeRemote) DeleteTask(ctx context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	delete(r.tasks, id)
	return nil
}

func (r *fakeRemote) ChangesSince(ctx context.Context, owner string, cursor time.Time, limit int) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []*task.Task
	for _, t := range r.tasks {
		if t.Owner == owner && t.UpdatedAt.After(cursor) {
			copied := *t
			rows = append(rows, &copied)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.Before(rows[j].UpdatedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// seed places a task directly on the fake remote, as another device would.
func (r *fakeRemote) seed(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *t
	r.tasks[t.ID] = &copied
}

type recordingPublisher struct {
	mu     stdsync.Mutex
	events []feed.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev feed.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

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

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func newTask(owner, title string) *task.Task {
	tk := &task.Task{Owner: owner, Title: title}
	tk.SetDefaults()
	return tk
}

func TestSyncFlushesQueueToRemote(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	coord := New(st, remote, nil, quietConfig())
	ctx := context.Background()

	tk := newTask("alice", "offline edit")
	if err := st.Put(ctx, tk, true); err != nil {
		t.Fatal(err)
	}

	status, err := coord.SyncNow(ctx, "alice")
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if status.Flushed != 1 {
		t.Errorf("flushed = %d, want 1", status.Flushed)
	}
	if remote.tasks[tk.ID] == nil {
		t.Error("task did not reach the remote")
	}
	pending, _ := st.PendingCount(ctx, "alice")
	if pending != 0 {
		t.Errorf("pending = %d after flush, want 0", pending)
	}
}

func TestSyncPullsRemoteChanges(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	coord := New(st, remote, nil, quietConfig())
	ctx := context.Background()

	other := newTask("alice", "made on another device")
	remote.seed(other)

	status, err := coord.SyncNow(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.Pulled != 1 || status.Applied != 1 {
		t.Errorf("pulled=%d applied=%d, want 1/1", status.Pulled, status.Applied)
	}

	got, err := st.GetTask(ctx, "alice", other.ID)
	if err != nil {
		t.Fatalf("pulled task missing locally: %v", err)
	}
	if got.Title != other.Title {
		t.Errorf("title = %q", got.Title)
	}

	// Cursor advanced to the batch maximum: the next pull is empty.
	status, err = coord.SyncNow(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.Pulled != 0 {
		t.Errorf("second pull returned %d rows, want 0", status.Pulled)
	}
}

func TestOfflineEditThenReconnect(t *testing.T) {
	// The scenario the engine exists for: edit locally while offline,
	// then reconnect while the remote holds a newer edit of another task.
	st := newTestStore(t)
	remote := newFakeRemote()
	coord := New(st, remote, nil, quietConfig())
	ctx := context.Background()

	coord.SetOnline(false)

	local := newTask("alice", "written offline")
	if err := st.Put(ctx, local, true); err != nil {
		t.Fatal(err)
	}

	remoteTask := newTask("alice", "edited elsewhere")
	remoteTask.UpdatedAt = time.Now().UTC().Add(time.Second)
	remote.seed(remoteTask)

	coord.SetOnline(true)
	status, err := coord.SyncNow(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.Flushed != 1 {
		t.Errorf("flushed = %d, want 1", status.Flushed)
	}

	// Both edits survive: the local one on the remote, the remote one
	// locally.
	if remote.tasks[local.ID] == nil {
		t.Error("local offline edit never reached the remote")
	}
	if _, err := st.GetTask(ctx, "alice", remoteTask.ID); err != nil {
		t.Errorf("remote edit never arrived locally: %v", err)
	}
}

func TestFlushFailureStopsBatchInOrder(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	coord := New(st, remote, nil, quietConfig())
	ctx := context.Background()

	first := newTask("alice", "first")
	second := newTask("alice", "second")
	third := newTask("alice", "third")
	for _, tk := range []*task.Task{first, second, third} {
		if err := st.Put(ctx, tk, true); err != nil {
			t.Fatal(err)
		}
	}
	remote.failTaskID = second.ID

	status, err := coord.SyncNow(ctx, "alice")
	if err != nil {
		t.Fatalf("a per-op failure must not fail the sync: %v", err)
	}
	if status.Flushed != 1 {
		t.Errorf("flushed = %d, want 1 (only the op before the failure)", status.Flushed)
	}
	if status.FlushErr == nil {
		t.Error("expected FlushErr to carry the stopping failure")
	}

	// First op gone, second retried, third untouched.
	ops, err := st.DrainBatch(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 {
		t.Fatalf("got %d remaining ops, want 2", len(ops))
	}
	if ops[0].TaskID != second.ID || ops[0].RetryCount != 1 {
		t.Errorf("head op = %s retry=%d, want failed op with retry 1", ops[0].TaskID, ops[0].RetryCount)
	}
	if ops[1].TaskID != third.ID || ops[1].RetryCount != 0 {
		t.Errorf("second op = %s retry=%d, want untouched third op", ops[1].TaskID, ops[1].RetryCount)
	}
	if remote.tasks[third.ID] != nil {
		t.Error("op after the failure was applied out of order")
	}
}

func TestRetryCapDeadLetters(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	remote.failUpserts = true

	cfg := quietConfig()
	cfg.RetryCap = 3
	coord := New(st, remote, nil, cfg)
	ctx := context.Background()

	tk := newTask("alice", "poison")
	if err := st.Put(ctx, tk, true); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := coord.SyncNow(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
	}

	pending, _ := st.PendingCount(ctx, "alice")
	dead, _ := st.DeadCount(ctx, "alice")
	if pending != 0 || dead != 1 {
		t.Errorf("pending=%d dead=%d after cap, want 0/1", pending, dead)
	}

	// The queue is unblocked for later operations.
	remote.failUpserts = false
	next := newTask("alice", "healthy")
	if err := st.Put(ctx, next, true); err != nil {
		t.Fatal(err)
	}
	status, err := coord.SyncNow(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.Flushed != 1 {
		t.Errorf("flushed = %d after dead-letter, want 1", status.Flushed)
	}
}

func TestFlushPublishesConfirmedOps(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	pub := &recordingPublisher{}
	coord := New(st, remote, pub, quietConfig())
	ctx := context.Background()

	tk := newTask("alice", "x")
	if err := st.Put(ctx, tk, true); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, "alice", tk.ID, true); err != nil {
		t.Fatal(err)
	}

	if _, err := coord.SyncNow(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	if pub.events[0].Type != feed.EventUpdate || pub.events[0].New.ID != tk.ID {
		t.Errorf("first event = %+v", pub.events[0])
	}
	if pub.events[1].Type != feed.EventDelete || pub.events[1].TaskID() != tk.ID {
		t.Errorf("second event = %+v", pub.events[1])
	}
}

func TestPullRespectsLimitAndResumes(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()

	cfg := quietConfig()
	cfg.PullLimit = 2
	coord := New(st, remote, nil, cfg)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		tk := newTask("alice", "remote")
		tk.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		remote.seed(tk)
	}

	total := 0
	for i := 0; i < 3; i++ {
		status, err := coord.SyncNow(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if status.Pulled > 2 {
			t.Errorf("pulled %d rows, cap is 2", status.Pulled)
		}
		total += status.Applied
	}
	if total != 5 {
		t.Errorf("applied %d rows across cycles, want 5", total)
	}

	tasks, err := st.ListTasks(ctx, "alice", store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 5 {
		t.Errorf("local store has %d tasks, want 5", len(tasks))
	}
}

func TestSyncNowSingleFlight(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()
	coord := New(st, remote, nil, quietConfig())
	ctx := context.Background()

	var wg stdsync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := coord.SyncNow(ctx, "alice"); err != nil {
				t.Errorf("concurrent SyncNow: %v", err)
			}
		}()
	}
	wg.Wait()
	// Eight concurrent triggers must not produce eight serialized full
	// cycles; most should coalesce onto in-flight syncs.
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if remote.upsertCalls != 0 {
		t.Errorf("no ops queued yet upserts = %d", remote.upsertCalls)
	}
}

func TestRunLoopSyncsOnKick(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()

	cfg := quietConfig()
	cfg.Interval = time.Hour // only kicks fire within the test
	coord := New(st, remote, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := newTask("alice", "kicked")
	if err := st.Put(ctx, tk, true); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, "alice") }()

	coord.Kick("alice")

	deadline := time.After(5 * time.Second)
	for {
		pending, err := st.PendingCount(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if pending == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("kick never triggered a sync")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestOfflineSkipsSync(t *testing.T) {
	st := newTestStore(t)
	remote := newFakeRemote()

	cfg := quietConfig()
	cfg.Interval = 20 * time.Millisecond
	coord := New(st, remote, nil, cfg)
	coord.SetOnline(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := newTask("alice", "waiting")
	if err := st.Put(ctx, tk, true); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, "alice") }()

	time.Sleep(100 * time.Millisecond)
	pending, err := st.PendingCount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Errorf("pending = %d while offline, want 1 (no sync should run)", pending)
	}

	// Coming back online kicks the loop without waiting for a tick.
	coord.SetOnline(true)
	deadline := time.After(5 * time.Second)
	for {
		pending, err := st.PendingCount(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if pending == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("online transition never flushed the queue")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
