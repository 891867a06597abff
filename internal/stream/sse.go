// Package stream holds the long-lived connections to the backend: the
// Server-Sent Events feed and the WebSocket audio channel.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	eventsPath        = "/sse/events"
	defaultRetry      = 5 * time.Second
	maxEventLineBytes = 1 << 20
	defaultEventType  = "message"
)

// Event is one dispatched Server-Sent Event.
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry time.Duration
}

// Handler receives events in arrival order.
type Handler func(ctx context.Context, ev Event)

// SSEClient follows the backend's event feed, reconnecting after drops.
type SSEClient struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
	logger     *slog.Logger

	lastEventID string
	retry       time.Duration
}

// NewSSEClient creates a client for baseURL. token is consulted on every
// (re)connect so a refreshed credential is picked up.
func NewSSEClient(baseURL string, token func() string, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// no overall timeout: the response body stays open indefinitely
		httpClient: &http.Client{},
		logger:     logger,
		retry:      defaultRetry,
	}
}

// Run connects and delivers events to h until ctx is cancelled.
func (c *SSEClient) Run(ctx context.Context, h Handler) error {
	for {
		err := c.connect(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("event stream disconnected", "error", err, "retry_in", c.retry)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retry):
		}
	}
}

func (c *SSEClient) connect(ctx context.Context, h Handler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+eventsPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connect: status %d", resp.StatusCode)
	}
	c.logger.Info("event stream connected")

	return c.read(ctx, resp.Body, h)
}

// read parses the text/event-stream framing. Comment lines and unknown
// fields are ignored; a blank line dispatches the pending event.
func (c *SSEClient) read(ctx context.Context, r io.Reader, h Handler) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)

	var ev Event
	var data []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				if ev.Type == "" {
					ev.Type = defaultEventType
				}
				h(ctx, ev)
			}
			ev = Event{}
			data = data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		case "id":
			if !strings.ContainsRune(value, 0) {
				ev.ID = value
				c.lastEventID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
				c.retry = time.Duration(ms) * time.Millisecond
				ev.Retry = c.retry
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return io.EOF
}
