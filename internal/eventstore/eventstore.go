// Package eventstore persists the append-only event ledger and aggregated
// stats table backing the fleet's history view, on a pure-Go sqlite driver
// so the server stays a single, dependency-light binary.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRetention is how long events are kept before the sweeper deletes
// them, absent an EVENTS_RETENTION_DAYS override.
const DefaultRetention = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pane_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_pane_id ON events(pane_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

CREATE TABLE IF NOT EXISTS stats (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	stat_path TEXT NOT NULL,
	value INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (entity_type, entity_id, stat_path)
);
`

// Store is a single sqlite-backed connection serving both the event
// ledger and the stats table. All access goes through this one *sql.DB;
// sqlite's own locking serializes writers.
type Store struct {
	db        *sql.DB
	retention time.Duration
}

// Open creates or opens the sqlite database at path, enables WAL mode, and
// ensures the schema exists.
func Open(path string, retention time.Duration) (*Store, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: applying schema: %w", err)
	}

	return &Store{db: db, retention: retention}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEvent records one event. payload is marshaled to JSON.
func (s *Store) AppendEvent(ctx context.Context, paneID, sessionID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventstore: marshaling payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (pane_id, session_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		paneID, sessionID, eventType, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("eventstore: appending event: %w", err)
	}
	return nil
}

// IncrementStat adds delta to the named stat, creating the row if absent.
func (s *Store) IncrementStat(ctx context.Context, entityType, entityID, statPath string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats (entity_type, entity_id, stat_path, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, stat_path)
		DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at`,
		entityType, entityID, statPath, delta, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("eventstore: incrementing stat: %w", err)
	}
	return nil
}

// Stat returns the current value of one stat, or 0 if it doesn't exist.
func (s *Store) Stat(ctx context.Context, entityType, entityID, statPath string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM stats WHERE entity_type = ? AND entity_id = ? AND stat_path = ?`,
		entityType, entityID, statPath).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventstore: reading stat: %w", err)
	}
	return value, nil
}

// RecentEvents returns up to limit most recent events for a pane, newest
// first.
func (s *Store) RecentEvents(ctx context.Context, paneID string, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pane_id, session_id, type, payload, created_at FROM events
		 WHERE pane_id = ? ORDER BY created_at DESC LIMIT ?`, paneID, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: querying events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.PaneID, &e.SessionID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventstore: scanning event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StoredEvent is a single row of the events table.
type StoredEvent struct {
	ID        int64
	PaneID    string
	SessionID string
	Type      string
	Payload   string
	CreatedAt int64
}

// RunRetentionSweep blocks, deleting events older than the configured
// retention horizon once every interval, until ctx is cancelled.
// interval <= 0 uses 24 hours.
func (s *Store) RunRetentionSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	cutoff := time.Now().Add(-s.retention).Unix()
	res, err := s.db.Exec(`DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		log.Printf("[eventstore] retention sweep error: %v", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[eventstore] retention sweep removed %d events", n)
	}
}
