// Package kv provides a sqlite-backed key-value store for archival
// summaries, the undo window, Bayesian CPD observations, and user
// preferences — the pieces of state that are small, structured, and
// queried by key rather than by similarity or traversal.
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed KV store. Single-writer, WAL mode, matching
// the concurrency model the rest of memcore's sqlite stores use.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens (or creates) the KV store at path. An empty path creates an
// in-memory store, used by tests.
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
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		);
	`)
	return err
}

// Put stores value under (namespace, key), replacing any existing entry.
func (s *Store) Put(ctx context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("kv store is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(namespace, key, value, updated_at) VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value)
	return err
}

// Get retrieves the value for (namespace, key). ok is false if absent.
func (s *Store) Get(ctx context.Context, namespace, key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, fmt.Errorf("kv store is closed")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Delete removes (namespace, key) if present.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("kv store is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	return err
}

// ListKeys returns every key in namespace.
func (s *Store) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("kv store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
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
