// ABOUTME: Mediates spawn/kill requests between remote clients and the local backend.
// ABOUTME: Owns unique-name allocation ordering and flip rule triggering per request.

package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyservin/concert-services/internal/registry"
	"github.com/garyservin/concert-services/internal/store"
)

// ErrShutdownInterrupted indicates an in-flight request was aborted
// because cooperative shutdown was observed. No reply should be sent.
var ErrShutdownInterrupted = errors.New("shutdown interrupted request")

// Backend is the local create/destroy service the mediator relays to.
type Backend interface {
	Spawn(ctx context.Context, x, y, theta float64, name string) (string, error)
	Kill(ctx context.Context, name string) error
}

// Flipper announces and withdraws cross-boundary routing rules.
type Flipper interface {
	Announce(ctx context.Context, name string) error
	Cancel(ctx context.Context, name string) error
}

// Region bounds the randomized spawn pose.
type Region struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Pose is a spawn position and heading.
type Pose struct {
	X, Y, Theta float64
}

// Mediator relays spawn/kill requests. One request runs to completion
// before the next starts: the registry and the backend are not designed
// for concurrent mutation from this path.
type Mediator struct {
	registry *registry.Registry
	backend  Backend
	flips    Flipper
	ledger   store.Store
	region   Region
	logger   *slog.Logger
	mu       sync.Mutex

	// pose draws the randomized spawn pose; replaced in tests.
	pose func() Pose
}

// New creates a Mediator with its collaborators injected. All handles
// must already be established; the mediator performs no discovery.
func New(reg *registry.Registry, backend Backend, flips Flipper, ledger store.Store, region Region, logger *slog.Logger) *Mediator {
	m := &Mediator{
		registry: reg,
		backend:  backend,
		flips:    flips,
		ledger:   ledger,
		region:   region,
		logger:   logger,
	}
	m.pose = m.randomPose
	return m
}

func (m *Mediator) randomPose() Pose {
	return Pose{
		X:     m.region.MinX + rand.Float64()*(m.region.MaxX-m.region.MinX),
		Y:     m.region.MinY + rand.Float64()*(m.region.MaxY-m.region.MinY),
		Theta: rand.Float64() * 2 * math.Pi,
	}
}

// Spawn allocates a unique name for the requested base name, relays the
// create call to the backend, and on success registers the name and
// announces its flip rules. The backend call strictly precedes registry
// and flip mutation: a crash after backend success leaves the registry
// stale rather than the backend, which is the accepted failure mode.
func (m *Mediator) Spawn(ctx context.Context, requestedName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return "", ErrShutdownInterrupted
	}

	name := m.registry.Allocate(requestedName)
	pose := m.pose()

	confirmed, err := m.backend.Spawn(ctx, pose.X, pose.Y, pose.Theta, name)
	if err != nil {
		if ctx.Err() != nil {
			m.logger.Info("shutdown while contacting the backend spawn service", "name", name)
			return "", ErrShutdownInterrupted
		}
		m.logger.Error("failed to contact the backend spawn service", "name", name, "error", err)
		return "", err
	}
	if confirmed != "" && confirmed != name {
		m.logger.Warn("backend confirmed a different name", "requested", name, "confirmed", confirmed)
	}

	m.registry.Register(name)
	m.recordEvent(ctx, store.ActionSpawn, name, fmt.Sprintf("requested as %s", requestedName))

	// Best-effort: the agent stays spawned even if its rules fail.
	if err := m.flips.Announce(ctx, name); err != nil {
		m.logger.Error("failed to send flip rules", "name", name, "error", err)
	}

	return name, nil
}

// Kill relays the destroy call to the backend. The name is deregistered
// only on confirmed backend success; on failure the registry keeps the
// name and the error is returned to the caller. Flip cancellation is
// attempted even for names the registry never held.
func (m *Mediator) Kill(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return ErrShutdownInterrupted
	}

	return m.killLocked(ctx, name)
}

func (m *Mediator) killLocked(ctx context.Context, name string) error {
	if err := m.backend.Kill(ctx, name); err != nil {
		if ctx.Err() != nil {
			m.logger.Info("shutdown while contacting the backend kill service", "name", name)
			return ErrShutdownInterrupted
		}
		m.logger.Error("failed to contact the backend kill service", "name", name, "error", err)
		return err
	}

	removed := m.registry.Deregister(name)
	if !removed {
		m.logger.Warn("killed agent was not registered", "name", name)
	}
	m.recordEvent(ctx, store.ActionKill, name, "")

	if err := m.flips.Cancel(ctx, name); err != nil {
		m.logger.Error("failed to cancel flip rules", "name", name, "error", err)
	}

	return nil
}

// KillAll drains the whole herd under the request mutex. Acquiring the
// mutex first means a request in flight when shutdown begins completes
// (or aborts) before the names are snapshotted, so an agent registered
// during the race is still destroyed. Failures are logged and the rest
// of the herd is still drained.
func (m *Mediator) KillAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.registry.Names() {
		if err := m.killLocked(ctx, name); err != nil {
			m.logger.Error("failed to kill agent while draining", "name", name, "error", err)
		}
	}
}

// SpawnBatch allocates unique names for the requested base names,
// invokes launch with them, and registers them only when the launch
// succeeds. The whole sequence holds the request mutex, so a concurrent
// spawn request cannot claim one of the batch's names between
// allocation and registration.
func (m *Mediator) SpawnBatch(ctx context.Context, requested []string, launch func(context.Context, []string) error) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return nil, ErrShutdownInterrupted
	}

	// Allocate consults only registered names, so collisions within the
	// batch itself are resolved here with the same counter suffixing.
	taken := make(map[string]struct{})
	names := make([]string, 0, len(requested))
	for _, base := range requested {
		name := base
		for count := 0; ; count++ {
			_, inBatch := taken[name]
			if !inBatch && !m.registry.Contains(name) {
				break
			}
			name = fmt.Sprintf("%s_%d", base, count)
		}
		taken[name] = struct{}{}
		names = append(names, name)
	}

	if err := launch(ctx, names); err != nil {
		return nil, err
	}

	for _, name := range names {
		m.registry.Register(name)
	}
	m.recordEvent(ctx, store.ActionLaunch, "", fmt.Sprintf("batch %v", names))

	return names, nil
}

// Agents returns the currently registered agent names.
func (m *Mediator) Agents() []string {
	return m.registry.Names()
}

// recordEvent writes to the herd ledger. Failures are logged, never
// propagated: the ledger is an audit trail, not part of the operation.
func (m *Mediator) recordEvent(ctx context.Context, action store.Action, name, detail string) {
	event := &store.HerdEvent{
		ID:        uuid.New().String(),
		Name:      name,
		Action:    action,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := m.ledger.SaveEvent(ctx, event); err != nil {
		m.logger.Error("failed to record herd event", "action", action, "name", name, "error", err)
	}
}
