// ABOUTME: Tracks the set of currently-live agent names for the herder.
// ABOUTME: Allocates collision-free names by suffixing a counter.

package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry is the authoritative index of live agent names. Names are
// unique at every instant; uniqueness is resolved at allocation time.
type Registry struct {
	names  map[string]struct{}
	mu     sync.RWMutex
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		names:  make(map[string]struct{}),
		logger: logger,
	}
}

// Allocate returns a name derived from base that does not collide with
// any registered name. The base itself is returned when free; otherwise
// "base_0", "base_1", ... are tried in order. Allocate does not register
// the result - registration is a separate step so callers can confirm
// the backend operation first.
func (r *Registry) Allocate(base string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := base
	for count := 0; ; count++ {
		if _, exists := r.names[name]; !exists {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, count)
	}
}

// Register adds a name to the live set.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.names[name] = struct{}{}
	r.logger.Info("agent registered", "name", name, "total_agents", len(r.names))
}

// Deregister removes a name from the live set. It reports whether the
// name was present, so callers can distinguish a kill of an unknown
// agent from a real removal.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; !exists {
		return false
	}
	delete(r.names, name)
	r.logger.Info("agent deregistered", "name", name, "total_agents", len(r.names))
	return true
}

// Contains reports whether a name is currently registered.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.names[name]
	return exists
}

// Names returns a sorted snapshot of all registered names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.names)
}
