package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/daylist-app/daylist/internal/remote"
)

// ErrEndpointGone marks a delivery failure whose transport status says
// the endpoint no longer exists. The endpoint is deleted permanently;
// any other failure leaves it in place for the next cycle.
var ErrEndpointGone = errors.New("push endpoint gone")

// Payload is the push message body. The tag is stable per task so
// repeated delivery to the same endpoint replaces the on-device
// notification instead of stacking a duplicate.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Tag   string `json:"tag"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
}

// Sender delivers one push message to one endpoint.
type Sender interface {
	Send(ctx context.Context, ep *remote.PushEndpoint, payload *Payload) error
}

// Backend is the slice of the remote store the dispatcher needs.
type Backend interface {
	Endpoints(ctx context.Context, owner string) ([]*remote.PushEndpoint, error)
	DeleteEndpoint(ctx context.Context, endpoint string) error
	MarkNotified(ctx context.Context, ids []string) error
}

// Result summarizes one dispatch run.
type Result struct {
	Scanned   int `json:"scanned"`   // due tasks handed to the dispatcher
	Delivered int `json:"delivered"` // tasks with at least one successful delivery
	Pruned    int `json:"pruned"`    // endpoints deleted as permanently gone
	Marked    int `json:"marked"`    // tasks marked notified
}

// Dispatcher fans due tasks out to their owners' push endpoints.
type Dispatcher struct {
	backend Backend
	sender  Sender
	appURL  string
	logger  *log.Logger
}

// NewDispatcher creates a dispatcher. appURL is the link carried in the
// push payload. If logger is nil, a default stderr logger is used.
func NewDispatcher(backend Backend, sender Sender, appURL string, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Dispatcher{
		backend: backend,
		sender:  sender,
		appURL:  appURL,
		logger:  logger,
	}
}

// Dispatch delivers each due task (in scan order) to every push endpoint
// registered for its owner. A task counts as delivered when at least one
// endpoint succeeds. After the full batch, mark-as-notified is issued
// once, in bulk, for exactly the delivered set; the stored timestamp is
// the dispatch time, not the due instant.
func (d *Dispatcher) Dispatch(ctx context.Context, due []*DueTask) (*Result, error) {
	result := &Result{Scanned: len(due)}

	var deliveredIDs []string
	for _, dt := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		eps, err := d.backend.Endpoints(ctx, dt.Task.Owner)
		if err != nil {
			return result, fmt.Errorf("failed to load endpoints for %s: %w", dt.Task.Owner, err)
		}
		if len(eps) == 0 {
			d.logger.Printf("Task %s due but owner %s has no push endpoints", dt.Task.ID, dt.Task.Owner)
			continue
		}

		payload := d.payloadFor(dt)
		delivered := false
		for _, ep := range eps {
			err := d.sender.Send(ctx, ep, payload)
			switch {
			case err == nil:
				delivered = true
			case errors.Is(err, ErrEndpointGone):
				d.logger.Printf("Pruning gone endpoint for %s", dt.Task.Owner)
				if derr := d.backend.DeleteEndpoint(ctx, ep.Endpoint); derr != nil {
					d.logger.Printf("Failed to prune endpoint: %v", derr)
				} else {
					result.Pruned++
				}
			default:
				// Transient: leave the endpoint for the next cycle.
				d.logger.Printf("Delivery to endpoint failed for task %s: %v", dt.Task.ID, err)
			}
		}

		if delivered {
			deliveredIDs = append(deliveredIDs, dt.Task.ID)
			result.Delivered++
		}
	}

	// Final, all-or-nothing step: a failure here aborts the run's
	// response but leaves state intact for the next cycle.
	if len(deliveredIDs) > 0 {
		if err := d.backend.MarkNotified(ctx, deliveredIDs); err != nil {
			return result, fmt.Errorf("failed to mark tasks notified: %w", err)
		}
		result.Marked = len(deliveredIDs)
	}

	return result, nil
}

func (d *Dispatcher) payloadFor(dt *DueTask) *Payload {
	return &Payload{
		Title: "Task due: " + dt.Task.Title,
		Body:  fmt.Sprintf("Due at %s", dt.DueInstant.In(dt.Task.Location()).Format("15:04")),
		URL:   d.appURL,
		Tag:   "task-" + dt.Task.ID,
		Icon:  "/icons/icon-192.png",
		Badge: "/icons/badge-72.png",
	}
}
