// Package tracestore persists QueryTrace records (sqlite, with indices on
// timestamp and error type, 30-day retention) and maintains a full-text
// search index over trace output/rationale text so the debug subsystem's
// error-attribution tooling can search traces by free text, not just by
// trace id.
package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	_ "modernc.org/sqlite"

	"github.com/memcore/memcore/internal/model"
)

// RetentionDays is how long traces are kept before Prune removes them.
const RetentionDays = 30

// Store persists query traces in sqlite and indexes their free text in
// bleve for the debug/attribution search surface.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	textIndex bleve.Index
	closed    bool
}

// Open opens (or creates) the trace store rooted at dir. An empty dir
// creates fully in-memory stores, used by tests.
func Open(dir string) (*Store, error) {
	dsn := ":memory:"
	var textIndex bleve.Index
	var err error

	if dir == "" {
		mapping := bleve.NewIndexMapping()
		textIndex, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = filepath.Join(dir, "traces.db") + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

		bleveDir := filepath.Join(dir, "traces.bleve")
		mapping := bleve.NewIndexMapping()
		textIndex, err = bleve.Open(bleveDir)
		if err == bleve.ErrorIndexPathDoesNotExist {
			textIndex, err = bleve.New(bleveDir, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open trace text index: %w", err)
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

	s := &Store{db: db, textIndex: textIndex}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS traces (
			trace_id   TEXT PRIMARY KEY,
			timestamp  INTEGER NOT NULL,
			error_type TEXT NOT NULL DEFAULT '',
			doc        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_traces_timestamp ON traces(timestamp);
		CREATE INDEX IF NOT EXISTS idx_traces_error_type ON traces(error_type);
	`)
	return err
}

type traceDoc struct {
	Query      string `json:"query"`
	Output     string `json:"output"`
	Rationale  string `json:"rationale"`
}

// Put persists a trace and indexes its free text fields for search.
func (s *Store) Put(ctx context.Context, trace *model.QueryTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("trace store is closed")
	}

	encoded, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces(trace_id, timestamp, error_type, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT(trace_id) DO UPDATE SET timestamp = excluded.timestamp, error_type = excluded.error_type, doc = excluded.doc`,
		trace.TraceID, trace.Timestamp.UnixNano(), string(trace.ErrorType), string(encoded))
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	doc := traceDoc{
		Query:     trace.Query,
		Output:    trace.OutputText,
		Rationale: trace.RoutingRationale,
	}
	if err := s.textIndex.Index(trace.TraceID, doc); err != nil {
		return fmt.Errorf("index trace text: %w", err)
	}
	return nil
}

// Get retrieves a trace by id. ok is false if not found.
func (s *Store) Get(ctx context.Context, traceID string) (trace *model.QueryTrace, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, fmt.Errorf("trace store is closed")
	}

	row := s.db.QueryRowContext(ctx, `SELECT doc FROM traces WHERE trace_id = ?`, traceID)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	var t model.QueryTrace
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

// ListRecent returns the most recent limit traces, newest first, for the
// debug subsystem's trace viewer.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*model.QueryTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("trace store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM traces ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent traces: %w", err)
	}
	defer rows.Close()

	var traces []*model.QueryTrace
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t model.QueryTrace
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, err
		}
		traces = append(traces, &t)
	}
	return traces, rows.Err()
}

// SearchText runs a full-text query over trace query/output/rationale
// fields, returning matching trace ids ranked by relevance.
func (s *Store) SearchText(query string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("trace store is closed")
	}

	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	req.Size = limit
	result, err := s.textIndex.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search trace text: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// WindowStats aggregates error attribution over a time window, used by the
// debug subsystem's configurable-window statistics requirement.
type WindowStats struct {
	Total          int
	ContextBugs    int
	ModelBugs      int
	SystemErrors   int
	PartialResults int
}

// StatsSince computes WindowStats for every trace with timestamp >= since.
func (s *Store) StatsSince(ctx context.Context, since time.Time) (WindowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return WindowStats{}, fmt.Errorf("trace store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT error_type, doc FROM traces WHERE timestamp >= ?`, since.UnixNano())
	if err != nil {
		return WindowStats{}, err
	}
	defer rows.Close()

	var stats WindowStats
	for rows.Next() {
		var errType, doc string
		if err := rows.Scan(&errType, &doc); err != nil {
			return WindowStats{}, err
		}
		stats.Total++
		switch model.ErrorType(errType) {
		case model.ErrorTypeContextBug:
			stats.ContextBugs++
		case model.ErrorTypeModelBug:
			stats.ModelBugs++
		case model.ErrorTypeSystem:
			stats.SystemErrors++
		}
		if strings.Contains(doc, `"Partial":true`) {
			stats.PartialResults++
		}
	}
	return stats, rows.Err()
}

// Prune removes traces older than RetentionDays.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("trace store is closed")
	}

	cutoff := now.Add(-RetentionDays * 24 * time.Hour).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database and text index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.textIndex.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
