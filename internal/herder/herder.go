// ABOUTME: Herder orchestrator that wires the mediator, supervisor, and collaborators.
// ABOUTME: Owns the process lifecycle: readiness gate, batch spawn, graceful shutdown.

package herder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/garyservin/concert-services/internal/auth"
	"github.com/garyservin/concert-services/internal/backend"
	"github.com/garyservin/concert-services/internal/config"
	"github.com/garyservin/concert-services/internal/flip"
	"github.com/garyservin/concert-services/internal/launcher"
	"github.com/garyservin/concert-services/internal/mediator"
	"github.com/garyservin/concert-services/internal/registry"
	"github.com/garyservin/concert-services/internal/store"
)

// State is the herder's lifecycle phase. Transitions happen only on the
// main flow; the signal path merely cancels the root context.
type State int32

const (
	StateInitializing State = iota
	StateReady
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Herder owns every component and exposes the process-level lifecycle.
type Herder struct {
	config     *config.Config
	registry   *registry.Registry
	backend    *backend.Client
	flips      *flip.Coordinator
	supervisor *launcher.Supervisor
	mediator   *mediator.Mediator
	ledger     store.Store
	httpServer *http.Server
	logger     *slog.Logger

	state atomic.Int32
}

// New creates a Herder with all components constructed and the HTTP
// routes registered. Collaborator reachability is checked in Run, not
// here: construction is cheap and side-effect free.
func New(cfg *config.Config, logger *slog.Logger) (*Herder, error) {
	ledger, err := store.NewSQLiteStore(cfg.Database.Path, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("initializing herd ledger: %w", err)
	}

	reg := registry.New(logger.With("component", "registry"))
	backendClient := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, logger.With("component", "backend"))
	flips := flip.NewCoordinator(cfg.Gateway.URL, cfg.Gateway.Namespace, cfg.Gateway.Timeout, logger.With("component", "flip"))
	supervisor := launcher.NewSupervisor(launcher.Config{
		Command:     cfg.Launcher.Command,
		BasePort:    cfg.Launcher.BasePort,
		GracePeriod: cfg.Launcher.GracePeriod,
	}, logger.With("component", "launcher"))

	region := mediator.Region{
		MinX: cfg.Spawn.MinX, MaxX: cfg.Spawn.MaxX,
		MinY: cfg.Spawn.MinY, MaxY: cfg.Spawn.MaxY,
	}
	med := mediator.New(reg, backendClient, flips, ledger, region, logger.With("component", "mediator"))

	h := &Herder{
		config:     cfg,
		registry:   reg,
		backend:    backendClient,
		flips:      flips,
		supervisor: supervisor,
		mediator:   med,
		ledger:     ledger,
		logger:     logger.With("component", "herder"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReady)
	h.registerAPIRoutes(mux)

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h, nil
}

// registerAPIRoutes mounts the mediator API, wrapping the mutating
// endpoints in JWT auth when a secret is configured.
func (h *Herder) registerAPIRoutes(mux *http.ServeMux) {
	if h.config.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(h.config.Auth.JWTSecret))
		authMiddleware := auth.Middleware(verifier)
		mux.Handle("/api/spawn", authMiddleware(http.HandlerFunc(h.mediator.HandleSpawn)))
		mux.Handle("/api/kill", authMiddleware(http.HandlerFunc(h.mediator.HandleKill)))
		h.logger.Info("API auth middleware enabled")
	} else {
		mux.HandleFunc("/api/spawn", h.mediator.HandleSpawn)
		mux.HandleFunc("/api/kill", h.mediator.HandleKill)
		h.logger.Warn("API auth disabled - no jwt_secret configured")
	}
	mux.HandleFunc("/api/agents", h.mediator.HandleAgents)
	mux.HandleFunc("/api/events", h.mediator.HandleEvents)
}

// State returns the current lifecycle state.
func (h *Herder) State() State {
	return State(h.state.Load())
}

func (h *Herder) setState(s State) {
	h.state.Store(int32(s))
	h.logger.Info("state transition", "state", s.String())
}

// Run blocks until the context is canceled or a server error occurs.
// Startup never reaches Ready unless both the backend and the gateway
// collaborator answer within the configured startup timeout.
func (h *Herder) Run(ctx context.Context) error {
	h.setState(StateInitializing)

	if err := h.awaitCollaborators(ctx); err != nil {
		if cleanupErr := h.shutdown(); cleanupErr != nil {
			h.logger.Error("cleanup after startup failure", "error", cleanupErr)
		}
		return err
	}

	// The backend pre-spawns a default agent; clear it so the herd
	// starts empty. Best-effort, matching the relay's advisory role.
	if name := h.config.Backend.KillDefault; name != "" {
		if err := h.backend.Kill(ctx, name); err != nil {
			h.logger.Error("failed to contact the backend kill service for the default agent", "name", name, "error", err)
		}
	}

	// The initial batch launches before the server accepts requests, so
	// its names cannot race with API-driven spawns.
	if len(h.config.Agents.Initial) > 0 {
		if err := h.SpawnBatch(ctx, h.config.Agents.Initial); err != nil {
			h.logger.Error("initial batch spawn failed", "error", err)
		}
	}

	ln, err := net.Listen("tcp", h.config.Server.HTTPAddr)
	if err != nil {
		if cleanupErr := h.shutdown(); cleanupErr != nil {
			h.logger.Error("cleanup after startup failure", "error", cleanupErr)
		}
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	// Request contexts derive from the run context so in-flight
	// handlers observe cooperative shutdown.
	h.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := h.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	h.setState(StateReady)

	var serverErr error
	select {
	case <-ctx.Done():
		h.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		h.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := h.shutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// awaitCollaborators gates startup on backend and gateway reachability,
// each bounded by the startup timeout.
func (h *Herder) awaitCollaborators(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, h.config.Agents.StartupTimeout)
	defer cancel()

	h.logger.Info("waiting for backend", "url", h.config.Backend.URL)
	if err := h.backend.WaitUntilReady(waitCtx); err != nil {
		return fmt.Errorf("backend never became ready: %w", err)
	}

	h.logger.Info("waiting for gateway", "url", h.config.Gateway.URL)
	if err := h.flips.WaitUntilReady(waitCtx); err != nil {
		return fmt.Errorf("gateway never became ready: %w", err)
	}

	return nil
}

// SpawnBatch launches a batch of locally pre-provisioned agents. The
// mediator owns allocation and registration, holding its request mutex
// across the launch. The launched processes announce themselves to the
// backend, so this path bypasses the mediator's per-agent spawn relay.
func (h *Herder) SpawnBatch(ctx context.Context, requested []string) error {
	names, err := h.mediator.SpawnBatch(ctx, requested, func(ctx context.Context, names []string) error {
		_, err := h.supervisor.LaunchBatch(ctx, names)
		return err
	})
	if err != nil {
		return err
	}

	h.logger.Info("batch launched", "agents", names)
	return nil
}

// shutdown destroys all tracked agents, terminates supervised
// processes, and stops the HTTP server. Best-effort throughout: a
// failure on one agent never blocks the rest.
func (h *Herder) shutdown() error {
	h.setState(StateShuttingDown)

	// Fresh context: the root context is already canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.mediator.KillAll(ctx)

	h.supervisor.TerminateAll()

	event := &store.HerdEvent{
		ID:        uuid.New().String(),
		Action:    store.ActionShutdown,
		Timestamp: time.Now().UTC(),
	}
	if err := h.ledger.SaveEvent(ctx, event); err != nil {
		h.logger.Error("failed to record shutdown event", "error", err)
	}

	var errs []error
	if err := h.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := h.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger close: %w", err))
	}

	h.setState(StateTerminated)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (h *Herder) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the herder reached Ready state.
func (h *Herder) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.State() != StateReady {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "state: %s", h.State())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", h.registry.Len())
}
