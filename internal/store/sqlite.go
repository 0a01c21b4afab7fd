// ABOUTME: SQLite implementation of the herd ledger using modernc.org/sqlite
// ABOUTME: Provides event persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS herd_events (
			event_id   TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			action     TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			timestamp  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_herd_events_timestamp ON herd_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_herd_events_name ON herd_events(name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveEvent persists a herd event to the database.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *HerdEvent) error {
	query := `
		INSERT INTO herd_events (event_id, name, action, detail, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Name,
		string(event.Action),
		event.Detail,
		event.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("saved herd event", "event_id", event.ID, "name", event.Name, "action", event.Action)
	return nil
}

// GetEvent retrieves a single event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*HerdEvent, error) {
	query := `
		SELECT event_id, name, action, detail, timestamp
		FROM herd_events
		WHERE event_id = ?
	`

	event := &HerdEvent{}
	var action, timestamp string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.Name,
		&action,
		&event.Detail,
		&timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}

	event.Action = Action(action)
	event.Timestamp, err = time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parsing event timestamp: %w", err)
	}
	return event, nil
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]HerdEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT event_id, name, action, detail, timestamp
		FROM herd_events
		ORDER BY timestamp DESC, event_id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []HerdEvent
	for rows.Next() {
		var event HerdEvent
		var action, timestamp string
		if err := rows.Scan(&event.ID, &event.Name, &action, &event.Detail, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		event.Action = Action(action)
		event.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
