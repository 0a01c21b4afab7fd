// ABOUTME: In-memory Store implementation for tests.
// ABOUTME: Mirrors the SQLite store's semantics without I/O.

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store used by tests.
type MockStore struct {
	events map[string]HerdEvent
	order  []string
	mu     sync.Mutex

	// SaveErr, when set, is returned by SaveEvent to simulate ledger
	// failures.
	SaveErr error
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{events: make(map[string]HerdEvent)}
}

func (m *MockStore) SaveEvent(_ context.Context, event *HerdEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.events[event.ID] = *event
	m.order = append(m.order, event.ID)
	return nil
}

func (m *MockStore) GetEvent(_ context.Context, id string) (*HerdEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return &event, nil
}

func (m *MockStore) RecentEvents(_ context.Context, limit int) ([]HerdEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	events := make([]HerdEvent, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, m.events[m.order[i]])
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events, nil
}

func (m *MockStore) Close() error {
	return nil
}

// Events returns every recorded event, oldest first.
func (m *MockStore) Events() []HerdEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]HerdEvent, 0, len(m.order))
	for _, id := range m.order {
		events = append(events, m.events[id])
	}
	return events
}
