// ABOUTME: Tests for flip rule construction and gateway submission.
// ABOUTME: Verifies the rule pair shape and the cancel flag wiring.

package flip

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(url string) *Coordinator {
	return NewCoordinator(url, "/services/turtlesim", 2*time.Second, slog.Default())
}

func TestAnnounceBuildsRulePair(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/flip", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := newTestCoordinator(srv.URL)
	require.NoError(t, c.Announce(context.Background(), "kobuki"))

	assert.False(t, got.Cancel)
	require.Len(t, got.Remotes, 2)

	// Both rules are keyed by the agent's name as the remote identity.
	for _, remote := range got.Remotes {
		assert.Equal(t, "kobuki", remote.Gateway)
		assert.Empty(t, remote.Rule.Node)
	}

	assert.Equal(t, "/services/turtlesim/kobuki/cmd_vel", got.Remotes[0].Rule.Name)
	assert.Equal(t, DirectionInbound, got.Remotes[0].Rule.Direction)
	assert.Equal(t, "/services/turtlesim/kobuki/pose", got.Remotes[1].Rule.Name)
	assert.Equal(t, DirectionOutbound, got.Remotes[1].Rule.Direction)
}

func TestCancelSetsCancelFlag(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := newTestCoordinator(srv.URL)
	require.NoError(t, c.Cancel(context.Background(), "guimul"))

	assert.True(t, got.Cancel)
	require.Len(t, got.Remotes, 2)
	assert.Equal(t, "/services/turtlesim/guimul/cmd_vel", got.Remotes[0].Rule.Name)
}

func TestSubmitFailureIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestCoordinator(srv.URL)
	assert.ErrorIs(t, c.Announce(context.Background(), "kobuki"), ErrSubmitFailed)
}

func TestSubmitGatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestCoordinator(srv.URL)
	assert.ErrorIs(t, c.Cancel(context.Background(), "kobuki"), ErrSubmitFailed)
}

func TestDirectionJSONNames(t *testing.T) {
	data, err := json.Marshal(Rule{Name: "/x", Direction: DirectionInbound})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"direction":"subscriber"`)
}
