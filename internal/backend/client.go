// ABOUTME: HTTP client for the simulator backend's spawn and kill endpoints.
// ABOUTME: Adds per-call timeouts and a startup readiness poll.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrBackendUnreachable indicates communication with the backend's
// spawn/kill endpoints failed or timed out.
var ErrBackendUnreachable = errors.New("backend unreachable")

// SpawnRequest is the JSON body for POST /spawn.
type SpawnRequest struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	Name  string  `json:"name"`
}

// SpawnResponse is the JSON body returned by POST /spawn.
type SpawnResponse struct {
	Name string `json:"name"`
}

// KillRequest is the JSON body for POST /kill.
type KillRequest struct {
	Name string `json:"name"`
}

// Client talks to the local simulator backend. The herder relays all
// create/destroy traffic through it since remote clients cannot reach
// the backend across the multimaster boundary.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a backend client for the given base URL. Every call
// is bounded by timeout; the original design had no client-side timeout,
// which left requests hanging on a dead backend.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{},
		logger:  logger,
	}
}

// Spawn asks the backend to create an agent at the given pose and
// returns the name the backend confirmed.
func (c *Client) Spawn(ctx context.Context, x, y, theta float64, name string) (string, error) {
	req := SpawnRequest{X: x, Y: y, Theta: theta, Name: name}

	var resp SpawnResponse
	if err := c.post(ctx, "/spawn", req, &resp); err != nil {
		return "", err
	}

	c.logger.Debug("backend spawn confirmed", "name", resp.Name, "x", x, "y", y)
	return resp.Name, nil
}

// Kill asks the backend to destroy the named agent.
func (c *Client) Kill(ctx context.Context, name string) error {
	if err := c.post(ctx, "/kill", KillRequest{Name: name}, nil); err != nil {
		return err
	}

	c.logger.Debug("backend kill confirmed", "name", name)
	return nil
}

// WaitUntilReady polls the backend health endpoint until it answers OK
// or the context expires. Used as the startup readiness gate: a backend
// that never comes up must fail startup, never yield a ready herder.
func (c *Client) WaitUntilReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := c.ping(ctx); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: backend not ready: %v", ErrBackendUnreachable, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// post sends a JSON request and decodes the response into out when
// out is non-nil. Transport errors and non-2xx statuses map to
// ErrBackendUnreachable.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", ErrBackendUnreachable, path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrBackendUnreachable, path, err)
	}
	return nil
}
