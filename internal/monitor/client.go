// Package monitor provides a client for the autofixd control surface and
// a terminal dashboard built on it.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	api "github.com/fyrsmithlabs/autofixd/internal/http"
	"github.com/fyrsmithlabs/autofixd/internal/macro"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/planner"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("autofixd: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("autofixd: %s (%d)", e.Message, e.StatusCode)
}

// Client talks to the autofixd HTTP control surface.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL, e.g. http://127.0.0.1:9090.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string { return c.baseURL }

// do sends body as JSON and decodes a 2xx response into out. The response
// is returned so callers can inspect the status and headers.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp, &APIError{StatusCode: resp.StatusCode, Message: e.Message}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}

// Health reports daemon liveness. A stopped engine yields an APIError
// with status 503.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	_, err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	_, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
	return out, err
}

func (c *Client) Memory(ctx context.Context) (memory.Snapshot, error) {
	var out memory.Snapshot
	_, err := c.do(ctx, http.MethodGet, "/api/v1/memory", nil, &out)
	return out, err
}

func (c *Client) StartDispatcher(ctx context.Context) (api.ToggleResponse, error) {
	var out api.ToggleResponse
	_, err := c.do(ctx, http.MethodPost, "/api/v1/dispatcher/start", nil, &out)
	return out, err
}

func (c *Client) StopDispatcher(ctx context.Context) (api.ToggleResponse, error) {
	var out api.ToggleResponse
	_, err := c.do(ctx, http.MethodPost, "/api/v1/dispatcher/stop", nil, &out)
	return out, err
}

func (c *Client) SetPlanner(ctx context.Context, enabled bool) (api.PlannerResponse, error) {
	var out api.PlannerResponse
	_, err := c.do(ctx, http.MethodPut, "/api/v1/planner", api.PlannerRequest{Enabled: &enabled}, &out)
	return out, err
}

// Tick runs one planner tick. The decision is nil unless the status is
// planner.StatusDecided.
func (c *Client) Tick(ctx context.Context) (*planner.Decision, planner.Status, error) {
	var d planner.Decision
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/planner/tick", nil, &d)
	if err != nil {
		return nil, "", err
	}
	status := planner.Status(resp.Header.Get(api.HeaderPlannerStatus))
	if resp.StatusCode == http.StatusNoContent {
		return nil, status, nil
	}
	return &d, status, nil
}

func (c *Client) ResetMemory(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/memory/reset", nil, nil)
	return err
}

func (c *Client) Evolve(ctx context.Context) ([]evolution.Action, error) {
	var out api.EvolveResponse
	_, err := c.do(ctx, http.MethodPost, "/api/v1/evolve", nil, &out)
	return out.Actions, err
}

func (c *Client) RunMacro(ctx context.Context, name string) (macro.Result, error) {
	var out macro.Result
	_, err := c.do(ctx, http.MethodPost, "/api/v1/macros/"+name, nil, &out)
	return out, err
}
