// ABOUTME: Herd ledger interface and event types for agent lifecycle audit.
// ABOUTME: Every spawn, kill, and launch is recorded with a timestamped event.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned when a requested event does not exist.
var ErrEventNotFound = errors.New("event not found")

// Action categorizes a herd event.
type Action string

const (
	ActionSpawn    Action = "spawn"
	ActionKill     Action = "kill"
	ActionLaunch   Action = "launch"
	ActionShutdown Action = "shutdown"
)

// HerdEvent is one entry in the herd ledger: which agent, what happened,
// and when. Detail carries free-form context such as the launch batch or
// a failure reason.
type HerdEvent struct {
	ID        string // UUID v4
	Name      string // agent name, empty for process-level events
	Action    Action
	Detail    string
	Timestamp time.Time
}

// Store persists herd events. Writes are best-effort from the caller's
// point of view: a ledger failure never fails the mediation operation
// that produced it.
type Store interface {
	SaveEvent(ctx context.Context, event *HerdEvent) error
	GetEvent(ctx context.Context, id string) (*HerdEvent, error)
	RecentEvents(ctx context.Context, limit int) ([]HerdEvent, error)
	Close() error
}
