// Package api is the client for the remote voice-note service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/voxnote/internal/model"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the remote REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

type registerRequest struct {
	DeviceID  string `json:"device_id"`
	PushToken string `json:"push_token,omitempty"`
}

// Register creates a remote user for this device.
func (c *Client) Register(ctx context.Context, deviceID, pushToken string) (*model.Registration, error) {
	var reg model.Registration
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/users/register", registerRequest{DeviceID: deviceID, PushToken: pushToken}, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

type syncUserRequest struct {
	UserID    string `json:"user_id"`
	PushToken string `json:"push_token"`
}

// SyncUser pushes the device's current push token to the remote user record.
func (c *Client) SyncUser(ctx context.Context, userID, pushToken string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/users/sync", syncUserRequest{UserID: userID, PushToken: pushToken}, nil)
}

func (c *Client) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	var d model.Dashboard
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/notes/dashboard", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Note(ctx context.Context, id string) (*model.Note, error) {
	var n model.Note
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/notes/"+url.PathEscape(id), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) TaskCenter(ctx context.Context) (*model.TaskCenter, error) {
	var tc model.TaskCenter
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks/center", nil, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

type taskStatusRequest struct {
	Status string `json:"status"`
	Done   bool   `json:"done"`
}

func (c *Client) UpdateTaskStatus(ctx context.Context, id, status string, done bool) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/v1/tasks/"+url.PathEscape(id)+"/status", taskStatusRequest{Status: status, Done: done}, nil)
}
