// Package eventlog is an append-only, monotonically ordered record of every
// lifecycle transition, ingestion, deletion, and query the system performs.
// It backs replay, audit, and the undo window.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/uuidgen"
)

// Store is a sqlite-backed append-only event log.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	closed  bool
	lastSeq int64
}

// Open opens (or creates) the event log at path. An empty path creates an
// in-memory log, used by tests.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := s.loadLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			timestamp  INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			session_id TEXT,
			payload    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`)
	return err
}

func (s *Store) loadLastSeq() error {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(timestamp), 0) FROM events`)
	return row.Scan(&s.lastSeq)
}

// Append writes an event, assigning it a monotonic timestamp that is
// strictly greater than every previously appended event's timestamp (even
// if wall-clock time hasn't advanced, to guarantee ordering under
// high-frequency writes).
func (s *Store) Append(ctx context.Context, kind model.EventKind, sessionID string, payload map[string]string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("event log is closed")
	}

	ts := nowNanos()
	if ts <= s.lastSeq {
		ts = s.lastSeq + 1
	}
	s.lastSeq = ts

	ev := &model.Event{
		ID:        uuidgen.NewEventID(),
		Timestamp: ts,
		Kind:      kind,
		Payload:   payload,
		SessionID: sessionID,
	}

	encoded, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(id, timestamp, kind, session_id, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp, string(ev.Kind), ev.SessionID, encoded)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return ev, nil
}

// Since returns every event with timestamp > afterNanos, ordered ascending.
func (s *Store) Since(ctx context.Context, afterNanos int64) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("event log is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, kind, session_id, payload FROM events WHERE timestamp > ? ORDER BY timestamp ASC`,
		afterNanos)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// InRange returns events with start <= timestamp <= end, ordered ascending;
// used by replay to reconstruct the session state active at a point in time.
func (s *Store) InRange(ctx context.Context, start, end int64) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("event log is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, kind, session_id, payload FROM events WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp ASC`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		var (
			ev      model.Event
			kind    string
			session sql.NullString
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &kind, &session, &payload); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		ev.SessionID = session.String
		decoded, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = decoded
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func nowNanos() int64 {
	return clockSource()
}
