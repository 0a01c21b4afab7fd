// ABOUTME: Builds and submits the flip rule pair for one agent name.
// ABOUTME: Submissions are best-effort; callers log failures and move on.

package flip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"
)

// ErrSubmitFailed indicates the gateway rejected or never received a
// flip submission. Non-fatal by design: the agent stays created or
// destroyed even when its routing rules fail to update.
var ErrSubmitFailed = errors.New("flip submission failed")

// Coordinator announces and cancels the pair of flip rules associated
// with one agent: an inbound command channel and an outbound status
// channel, both keyed by the agent's name as the remote identity.
type Coordinator struct {
	gatewayURL string
	namespace  string
	timeout    time.Duration
	http       *http.Client
	logger     *slog.Logger
}

// NewCoordinator creates a Coordinator submitting to the gateway
// collaborator at gatewayURL. namespace is the resource-path prefix
// under which agent channels live, e.g. "/services/turtlesim".
func NewCoordinator(gatewayURL, namespace string, timeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		gatewayURL: gatewayURL,
		namespace:  namespace,
		timeout:    timeout,
		http:       &http.Client{},
		logger:     logger,
	}
}

// Announce submits the rule pair for name so its channels become
// reachable from the far side of the boundary.
func (c *Coordinator) Announce(ctx context.Context, name string) error {
	return c.submit(ctx, name, false)
}

// Cancel withdraws the rule pair for name.
func (c *Coordinator) Cancel(ctx context.Context, name string) error {
	return c.submit(ctx, name, true)
}

// WaitUntilReady polls the gateway flip endpoint until it is reachable
// or the context expires. Startup gate, mirrors the backend client.
func (c *Coordinator) WaitUntilReady(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.ping(ctx) == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: gateway not ready: %v", ErrSubmitFailed, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/health", nil)
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

// rulesFor builds the two rules for an agent name: inbound cmd_vel,
// outbound pose. Node filters stay empty; the gateway matches any node.
func (c *Coordinator) rulesFor(name string) []Rule {
	return []Rule{
		{
			Name:      path.Join(c.namespace, name, "cmd_vel"),
			Direction: DirectionInbound,
		},
		{
			Name:      path.Join(c.namespace, name, "pose"),
			Direction: DirectionOutbound,
		},
	}
}

func (c *Coordinator) submit(ctx context.Context, name string, cancel bool) error {
	rules := c.rulesFor(name)
	request := Request{Cancel: cancel}
	for _, rule := range rules {
		request.Remotes = append(request.Remotes, RemoteRule{Gateway: name, Rule: rule})
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, c.timeout)
	defer cancelTimeout()

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding flip request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/flip", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating flip request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: gateway returned status %d", ErrSubmitFailed, resp.StatusCode)
	}

	c.logger.Debug("flip rules submitted", "gateway", name, "cancel", cancel, "rules", len(rules))
	return nil
}
