// ABOUTME: HTTP API handlers for the mediator's spawn/kill endpoints.
// ABOUTME: JSON request/response surface served by the herder's mux.

package mediator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/garyservin/concert-services/internal/backend"
)

// SpawnAPIRequest is the JSON request body for POST /api/spawn.
type SpawnAPIRequest struct {
	Name string `json:"name"`
}

// SpawnAPIResponse is the JSON response for POST /api/spawn. Name is
// the final assigned name, or empty when the spawn failed - remote
// callers rely on the empty-name sentinel.
type SpawnAPIResponse struct {
	Name string `json:"name"`
}

// KillAPIRequest is the JSON request body for POST /api/kill.
type KillAPIRequest struct {
	Name string `json:"name"`
}

// AgentsAPIResponse is the JSON response for GET /api/agents.
type AgentsAPIResponse struct {
	Agents []string `json:"agents"`
}

// errorResponse is the JSON error body for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

// HandleSpawn handles POST /api/spawn requests.
func (m *Mediator) HandleSpawn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SpawnAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	name, err := m.Spawn(r.Context(), req.Name)
	if errors.Is(err, ErrShutdownInterrupted) {
		// Abort without a reply; the connection is torn down with the
		// process anyway.
		return
	}
	if err != nil {
		// Failure is reported via the empty-name sentinel with an OK
		// status: the remote protocol has no fault channel for spawn.
		writeJSON(w, http.StatusOK, SpawnAPIResponse{Name: ""})
		return
	}

	writeJSON(w, http.StatusOK, SpawnAPIResponse{Name: name})
}

// HandleKill handles POST /api/kill requests. Unlike spawn, backend
// failure surfaces as a typed error response.
func (m *Mediator) HandleKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req KillAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	err := m.Kill(r.Context(), req.Name)
	if errors.Is(err, ErrShutdownInterrupted) {
		return
	}
	if errors.Is(err, backend.ErrBackendUnreachable) {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "backend unreachable"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// HandleAgents handles GET /api/agents requests.
func (m *Mediator) HandleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, AgentsAPIResponse{Agents: m.Agents()})
}

// HandleEvents handles GET /api/events requests, returning recent herd
// ledger entries, newest first.
func (m *Mediator) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	events, err := m.ledger.RecentEvents(r.Context(), limit)
	if err != nil {
		m.logger.Error("failed to load herd events", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "loading events failed"})
		return
	}

	type eventResponse struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Action    string `json:"action"`
		Detail    string `json:"detail,omitempty"`
		Timestamp string `json:"timestamp"`
	}
	response := make([]eventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, eventResponse{
			ID:        event.ID,
			Name:      event.Name,
			Action:    string(event.Action),
			Detail:    event.Detail,
			Timestamp: event.Timestamp.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": response})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
