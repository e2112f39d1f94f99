// Package broadcast implements the pub/sub broadcast client the status
// pipeline uses to check whether a host is administratively ignored and to
// publish the post-status snapshot: an HTTP client against the broadcast
// service's REST endpoints, plus an in-process pub/sub broker for the
// local service collector notification fired once every per-host branch
// settles. Both are injected capabilities so tests substitute fakes.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/shepherd/pkg/metrics"
	"github.com/cuemby/shepherd/pkg/yadterr"
)

// HostGroup is one {name, services, artefacts} entry in the hierarchical
// snapshot sent to sendFullUpdate.
type HostGroup struct {
	Name     string          `json:"name"`
	Services []ServiceStatus `json:"services"`
	Artefact []ArtefactInfo  `json:"artefacts"`
}

type ServiceStatus struct {
	URI   string `json:"uri"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type ArtefactInfo struct {
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Current string `json:"current"`
}

// Client is the capability interface the status pipeline depends on.
type Client interface {
	// GetIgnoredStatus queries whether host is administratively ignored.
	// ignored is true and message is non-empty when the host is ignored.
	GetIgnoredStatus(ctx context.Context, host string) (ignored bool, message string, err error)
	// SendFullUpdate publishes the complete post-status snapshot, grouped
	// the way the host declaration file ordered its groups.
	SendFullUpdate(ctx context.Context, groups [][]HostGroup, trackingID string) error
	// SendHostChange publishes a single host's state transition.
	SendHostChange(ctx context.Context, host, state string) error
	// Ignore tells the broadcast service to mark host administratively
	// ignored; the next status run will then substitute an IgnoredHost.
	Ignore(ctx context.Context, host, message string) error
	// Unignore reverses Ignore.
	Unignore(ctx context.Context, host string) error
}

// HTTPClient is the production Client: GET
// http://<host>:<port>/api/v1/hosts/<short>/status-ignored, 2xx-with-body
// means ignored, anything else means not ignored. It makes up to RetryCount
// attempts in total, RetryDelay (1s by default) apart, before surfacing an
// error.
type HTTPClient struct {
	BaseURL    string // e.g. "http://broadcast.example.com:8080"
	HTTPClient *http.Client
	RetryCount int
	RetryDelay time.Duration
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		RetryCount: 3,
		RetryDelay: time.Second,
	}
}

func (c *HTTPClient) GetIgnoredStatus(ctx context.Context, host string) (bool, string, error) {
	url := fmt.Sprintf("%s/api/v1/hosts/%s/status-ignored", c.BaseURL, host)

	var lastErr error
	attempts := c.RetryCount
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, "", ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}

		ignored, message, err := c.tryGetIgnoredStatus(ctx, url)
		if err == nil {
			metrics.BroadcastRequestsTotal.WithLabelValues("status-ignored", "ok").Inc()
			return ignored, message, nil
		}
		lastErr = err
	}
	metrics.BroadcastRequestsTotal.WithLabelValues("status-ignored", "error").Inc()
	return false, "", yadterr.Wrap(yadterr.Infrastructure, "ignored-status probe failed after retries", lastErr)
}

func (c *HTTPClient) tryGetIgnoredStatus(ctx context.Context, url string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "", err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(body) > 0 {
		return true, string(body), nil
	}
	return false, "", nil
}

func (c *HTTPClient) Ignore(ctx context.Context, host, message string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/hosts/%s/ignore", host), map[string]string{"message": message})
}

func (c *HTTPClient) Unignore(ctx context.Context, host string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/hosts/%s/unignore", host), map[string]string{})
}

func (c *HTTPClient) SendFullUpdate(ctx context.Context, groups [][]HostGroup, trackingID string) error {
	payload := map[string]interface{}{
		"groups":      groups,
		"tracking_id": trackingID,
	}
	return c.post(ctx, "/api/v1/hosts/full-update", payload)
}

func (c *HTTPClient) SendHostChange(ctx context.Context, host, state string) error {
	payload := map[string]interface{}{"host": host, "state": state}
	return c.post(ctx, fmt.Sprintf("/api/v1/hosts/%s/change", host), payload)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.BroadcastRequestsTotal.WithLabelValues(path, "error").Inc()
		return yadterr.Wrap(yadterr.Infrastructure, "broadcast post failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		metrics.BroadcastRequestsTotal.WithLabelValues(path, "error").Inc()
		return yadterr.New(yadterr.Infrastructure, fmt.Sprintf("broadcast post to %s returned %d", path, resp.StatusCode))
	}
	metrics.BroadcastRequestsTotal.WithLabelValues(path, "ok").Inc()
	return nil
}

// NewTrackingID mints the opaque ID attached to a SendFullUpdate call.
func NewTrackingID() string {
	return uuid.NewString()
}

// EventStatusSettled is published on the in-process broker once every
// per-host status branch has settled.
const EventStatusSettled = "status-settled"

// Event is published on the in-process broker — used by the status
// pipeline's "local service collector" notification, fired once every
// per-host branch settles.
type Event struct {
	Type      string
	Host      string
	Timestamp time.Time
}

// Subscriber receives Events.
type Subscriber chan Event

// Broker is an in-process pub/sub hub: one buffered channel per
// subscriber, best-effort delivery (a slow subscriber drops events rather
// than blocking the fan-out).
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan Event
	stopCh      chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[Subscriber]bool{},
		eventCh:     make(chan Event, 100),
		stopCh:      make(chan struct{}),
	}
}

func (b *Broker) Start() { go b.run() }
func (b *Broker) Stop()  { close(b.stopCh) }

func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 10)
	b.subscribers[sub] = true
	return sub
}

func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

func (b *Broker) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.mu.RLock()
			for sub := range b.subscribers {
				select {
				case sub <- event:
				default:
				}
			}
			b.mu.RUnlock()
		case <-b.stopCh:
			return
		}
	}
}
