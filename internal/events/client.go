// Package events talks to the competition event server: it lists events,
// fetches start lists and posts results, caching results the server could
// not take.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

var (
	ErrNoServer     = errors.New("event server address not set")
	ErrResultCached = errors.New("result cached")
)

type EventRules struct {
	Attempts        int  `json:"attempts"`
	CutEnabled      bool `json:"cutEnabled"`
	CutQualifiers   int  `json:"cutQualifiers"`
	ReorderAfterCut bool `json:"reorderAfterCut"`
}

type Athlete struct {
	Bib   string `json:"bib"`
	Order int    `json:"order"`
	Name  string `json:"name"`
	Club  string `json:"club"`
}

type Event struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Rules    EventRules `json:"rules,omitempty"`
	Athletes []Athlete  `json:"athletes,omitempty"`
}

// Performance is one attempt. Wind is set for horizontal jumps only.
type Performance struct {
	Attempt int     `json:"attempt"`
	Mark    string  `json:"mark"`
	Unit    string  `json:"unit"`
	Wind    *string `json:"wind,omitempty"`
	Valid   bool    `json:"valid"`
}

type ResultPayload struct {
	EventID    string        `json:"eventId"`
	AthleteBib string        `json:"athleteBib"`
	Series     []Performance `json:"series"`
}

// Client is safe for concurrent use.
type Client struct {
	http  *http.Client
	cache *Cache
	clock timeutil.Clock

	mu      sync.Mutex
	address string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithClock(clock timeutil.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func NewClient(address string, cache *Cache, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
		clock:   timeutil.RealClock{},
		address: address,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetServerAddress points the client, and the cache retry loop, at host:port.
func (c *Client) SetServerAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = address
}

func (c *Client) ServerAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

func (c *Client) endpoint(path string) (string, error) {
	addr := c.ServerAddress()
	if addr == "" {
		return "", ErrNoServer
	}
	return (&url.URL{Scheme: "http", Host: addr, Path: "/api/v1/" + path}).String(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	u, err := c.endpoint(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned non-200 status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) FetchEvents(ctx context.Context) ([]Event, error) {
	var events []Event
	if err := c.getJSON(ctx, "events", &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) FetchEventDetails(ctx context.Context, eventID string) (*Event, error) {
	var e Event
	if err := c.getJSON(ctx, "events/"+url.PathEscape(eventID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// send posts one result. A non-nil error means the server did not take it.
func (c *Client) send(ctx context.Context, p ResultPayload) error {
	u, err := c.endpoint("results")
	if err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal result payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &statusError{status: resp.Status}
	}
	return nil
}

type statusError struct{ status string }

func (e *statusError) Error() string { return fmt.Sprintf("server error (%s)", e.status) }

// PostResult sends p to the server. When that fails the result is cached for
// the retry loop and the returned error wraps ErrResultCached.
func (c *Client) PostResult(ctx context.Context, p ResultPayload) error {
	err := c.send(ctx, p)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoServer) {
		return err
	}
	if cerr := c.cache.Add(p); cerr != nil {
		return fmt.Errorf("%v, and caching failed: %w", err, cerr)
	}
	log.Logger.Warn("result cached", log.String("bib", p.AthleteBib), log.String("event", p.EventID), log.ErrorField(err))

	var se *statusError
	if errors.As(err, &se) {
		return fmt.Errorf("%s, %w", se.Error(), ErrResultCached)
	}
	return fmt.Errorf("network error, %w", ErrResultCached)
}

// RetryCached resends every cached result once and keeps those that fail.
func (c *Client) RetryCached(ctx context.Context) (sent int, err error) {
	if c.ServerAddress() == "" || c.cache.Len() == 0 {
		return 0, nil
	}
	log.Logger.Info("attempting to send cached results", log.Int("count", c.cache.Len()))
	return c.cache.Drain(func(p ResultPayload) bool {
		if err := c.send(ctx, p); err != nil {
			return false
		}
		log.Logger.Info("sent cached result", log.String("bib", p.AthleteBib))
		return true
	})
}

// RunRetryLoop calls RetryCached every interval until ctx is done.
func (c *Client) RunRetryLoop(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := c.RetryCached(ctx); err != nil {
				log.Logger.Warn("failed to update result cache", log.ErrorField(err))
			}
		}
	}
}
