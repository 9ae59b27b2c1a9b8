// Package sync orchestrates the offline-first synchronization loop:
// flush the outbox queue, then pull remote changes, as one logical
// operation per owner.
//
// SyncNow is single-flight per owner. Overlapping triggers (the
// foreground timer, the transition to online, a change-feed
// notification, explicit user action) coalesce onto the in-flight sync
// instead of running alongside it, so a flush can never interleave with
// a pull mid-merge.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/daylist-app/daylist/internal/feed"
	"github.com/daylist-app/daylist/internal/store"
	"github.com/daylist-app/daylist/internal/task"
)

// Remote is the slice of the remote store contract the coordinator needs.
type Remote interface {
	// UpsertTask replaces the full remote row, keyed by id.
	UpsertTask(ctx context.Context, t *task.Task) error

	// DeleteTask removes a task by id, scoped to its owner.
	DeleteTask(ctx context.Context, owner, id string) error

	// ChangesSince returns owner rows with updated_at strictly greater
	// than cursor, ascending, capped at limit.
	ChangesSince(ctx context.Context, owner string, cursor time.Time, limit int) ([]*task.Task, error)
}

// Publisher forwards a row event to the change feed after a mutation has
// been applied remotely. Optional; a nil publisher disables fan-out.
type Publisher interface {
	Publish(ctx context.Context, ev feed.Event) error
}

// Config holds coordinator tuning knobs.
type Config struct {
	// Interval is the foreground sync timer period.
	Interval time.Duration

	// BatchSize caps the operations drained per flush.
	BatchSize int

	// PullLimit caps the rows fetched per pull. A backlog larger than
	// this needs repeated trigger cycles to fully catch up; a single
	// sync does not loop.
	PullLimit int

	// RetryCap bounds per-operation retries before dead-lettering.
	RetryCap int

	// Logger for sync activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:  60 * time.Second,
		BatchSize: store.DefaultBatchSize,
		PullLimit: 1000,
		RetryCap:  10,
		Logger:    log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Status summarizes one completed sync pass.
type Status struct {
	Owner        string
	Flushed      int   // operations confirmed remotely and removed
	DeadLettered int   // operations moved to the dead-letter table
	FlushErr     error // first operation failure that stopped the batch
	Pulled       int   // rows received from the remote
	Applied      int   // rows that won the local merge
	Duration     time.Duration
}

// Coordinator drives flush-then-pull cycles for any number of owners.
// Cross-owner work is independent; per-owner work is single-flight.
type Coordinator struct {
	store     *store.Store
	remote    Remote
	publisher Publisher
	cfg       Config

	group singleflight.Group

	mu     sync.Mutex
	online bool
	kicks  map[string]chan struct{}
}

// New creates a Coordinator. publisher may be nil.
func New(st *store.Store, remote Remote, publisher Publisher, cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = store.DefaultBatchSize
	}
	if cfg.PullLimit <= 0 {
		cfg.PullLimit = 1000
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	return &Coordinator{
		store:     st,
		remote:    remote,
		publisher: publisher,
		cfg:       cfg,
		online:    true,
		kicks:     make(map[string]chan struct{}),
	}
}

// SyncNow flushes the owner's queue and then pulls remote updates.
//
// Concurrent calls for the same owner coalesce onto the in-flight sync
// and share its result. The context threads through every flush and
// pull call so a stale sync can be abandoned on teardown.
func (c *Coordinator) SyncNow(ctx context.Context, owner string) (*Status, error) {
	v, err, _ := c.group.Do(owner, func() (any, error) {
		return c.syncOnce(ctx, owner)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Status), nil
}

func (c *Coordinator) syncOnce(ctx context.Context, owner string) (*Status, error) {
	start := time.Now()
	status := &Status{Owner: owner}

	if err := c.flushQueue(ctx, owner, status); err != nil {
		return nil, fmt.Errorf("flush failed: %w", err)
	}
	if err := c.pullUpdates(ctx, owner, status); err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}

	status.Duration = time.Since(start)
	c.cfg.Logger.Printf("Sync complete for %s: flushed=%d dead=%d pulled=%d applied=%d in %v",
		owner, status.Flushed, status.DeadLettered, status.Pulled, status.Applied,
		status.Duration.Round(time.Millisecond))
	return status, nil
}

// Kick requests an immediate sync for an owner from its Run loop.
// Multiple kicks before the loop wakes collapse into one.
func (c *Coordinator) Kick(owner string) {
	select {
	case c.kickChan(owner) <- struct{}{}:
	default:
	}
}

func (c *Coordinator) kickChan(owner string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.kicks[owner]
	if !ok {
		ch = make(chan struct{}, 1)
		c.kicks[owner] = ch
	}
	return ch
}

// SetOnline records connectivity. The transition to online kicks every
// registered owner so queued mutations flush without waiting for the
// next timer tick.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	var owners []string
	if online && !wasOnline {
		for owner := range c.kicks {
			owners = append(owners, owner)
		}
	}
	c.mu.Unlock()

	for _, owner := range owners {
		c.Kick(owner)
	}
}

// Online reports the recorded connectivity state.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Run drives the periodic sync loop for one owner until ctx is
// cancelled. Timer ticks and kicks both route through SyncNow and thus
// through the single-flight guard.
func (c *Coordinator) Run(ctx context.Context, owner string) error {
	kick := c.kickChan(owner)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-kick:
		}

		if !c.Online() {
			continue
		}
		if _, err := c.SyncNow(ctx, owner); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.cfg.Logger.Printf("Sync failed for %s: %v", owner, err)
		}
	}
}
