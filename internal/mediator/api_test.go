// ABOUTME: Tests for the mediator's HTTP JSON API surface.
// ABOUTME: Exercises spawn/kill endpoints, sentinels, and typed errors.

package mediator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyservin/concert-services/internal/backend"
)

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleSpawn(t *testing.T) {
	f := newFixture()

	rec := postJSON(t, f.mediator.HandleSpawn, "/api/spawn", `{"name":"kobuki"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SpawnAPIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "kobuki", resp.Name)
}

func TestHandleSpawnBackendFailureReturnsEmptySentinel(t *testing.T) {
	f := newFixture()
	f.backend.spawnErr = backend.ErrBackendUnreachable

	rec := postJSON(t, f.mediator.HandleSpawn, "/api/spawn", `{"name":"kobuki"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SpawnAPIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Name)
}

func TestHandleSpawnValidation(t *testing.T) {
	f := newFixture()

	rec := postJSON(t, f.mediator.HandleSpawn, "/api/spawn", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, f.mediator.HandleSpawn, "/api/spawn", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/spawn", nil)
	rec = httptest.NewRecorder()
	f.mediator.HandleSpawn(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleKill(t *testing.T) {
	f := newFixture()
	_, err := f.mediator.Spawn(t.Context(), "kobuki")
	require.NoError(t, err)

	rec := postJSON(t, f.mediator.HandleKill, "/api/kill", `{"name":"kobuki"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.registry.Contains("kobuki"))
}

func TestHandleKillBackendFailureIsTyped(t *testing.T) {
	f := newFixture()
	f.backend.killErr = backend.ErrBackendUnreachable

	rec := postJSON(t, f.mediator.HandleKill, "/api/kill", `{"name":"kobuki"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "backend unreachable", resp["error"])
}

func TestHandleAgents(t *testing.T) {
	f := newFixture()
	ctx := t.Context()
	_, err := f.mediator.Spawn(ctx, "kobuki")
	require.NoError(t, err)
	_, err = f.mediator.Spawn(ctx, "guimul")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rec := httptest.NewRecorder()
	f.mediator.HandleAgents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AgentsAPIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"guimul", "kobuki"}, resp.Agents)
}

func TestHandleEvents(t *testing.T) {
	f := newFixture()
	_, err := f.mediator.Spawn(t.Context(), "kobuki")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=10", nil)
	rec := httptest.NewRecorder()
	f.mediator.HandleEvents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []struct {
			Name   string `json:"name"`
			Action string `json:"action"`
		} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "kobuki", resp.Events[0].Name)
	assert.Equal(t, "spawn", resp.Events[0].Action)
}

func TestHandleEventsBadLimit(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=soon", nil)
	rec := httptest.NewRecorder()
	f.mediator.HandleEvents(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
