package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"

	"github.com/coder/websocket"

	"github.com/daylist-app/daylist/internal/store"
	"github.com/daylist-app/daylist/internal/task"
)

// Listener is invoked after an event has been applied locally. The
// coordinator uses it to trigger an immediate sync so a change made on
// another device propagates without waiting for the next timer tick.
type Listener func(eventType, taskID string)

// Subscriber holds one live owner-scoped feed subscription. The
// connection is owned by the subscriber and released deterministically
// by Unsubscribe, on every exit path of the read loop included.
type Subscriber struct {
	owner    string
	store    *store.Store
	listener Listener
	logger   *log.Logger

	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// Subscribe dials the feed hub and starts applying the owner's events
// to the local store. listener may be nil.
func Subscribe(ctx context.Context, feedURL, owner string, st *store.Store, listener Listener, logger *log.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}

	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("owner", owner)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to feed: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		owner:    owner,
		store:    st,
		listener: listener,
		logger:   logger,
		conn:     conn,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go s.readLoop(readCtx)
	return s, nil
}

// Unsubscribe releases the underlying connection and waits for the read
// loop to finish. Safe to call more than once.
func (s *Subscriber) Unsubscribe() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
	})
	<-s.done
	return nil
}

func (s *Subscriber) readLoop(ctx context.Context) {
	defer close(s.done)
	defer s.conn.CloseNow()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("Feed connection closed: %v", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Printf("Skipping malformed feed event: %v", err)
			continue
		}

		if err := s.apply(ctx, &ev); err != nil {
			s.logger.Printf("Failed to apply feed event for %s: %v", ev.TaskID(), err)
			continue
		}

		if s.listener != nil {
			s.listener(ev.Type, ev.TaskID())
		}
	}
}

// apply merges one event into the local store. Deletes remove the record
// by id; inserts and updates are normalized and merged with the same
// last-write-wins rule as pulls, so replaying an event a pull already
// delivered is a no-op.
func (s *Subscriber) apply(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventDelete:
		if ev.Old == nil || ev.Old.ID == "" {
			return fmt.Errorf("delete event without task id")
		}
		return s.store.Delete(ctx, s.owner, ev.Old.ID, false)

	case EventInsert, EventUpdate:
		if ev.New == nil {
			return fmt.Errorf("%s event without row", ev.Type)
		}
		incoming := *ev.New
		incoming.SetDefaults()
		_, err := s.store.MergeIncoming(ctx, []*task.Task{&incoming})
		return err

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}
