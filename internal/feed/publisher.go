package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPPublisher posts confirmed mutations to the feed hub's publish
// endpoint so other devices' subscriptions see them live.
type HTTPPublisher struct {
	publishURL string
	secret     string
	client     *http.Client
}

// NewHTTPPublisher creates a publisher for the given hub publish URL.
func NewHTTPPublisher(publishURL, secret string) *HTTPPublisher {
	return &HTTPPublisher{
		publishURL: publishURL,
		secret:     secret,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Publish sends one event to the hub.
func (p *HTTPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal feed event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.publishURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Feed-Secret", p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish feed event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("feed hub rejected event: %s", resp.Status)
	}
	return nil
}
