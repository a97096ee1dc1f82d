// Package chunkstore persists indexed chunks and their lifecycle
// metadata. Vector embeddings live in internal/store/vector and entity
// edges live in internal/store/graphstore; this store holds the text,
// tagging envelope, and lifecycle stage every other store's ids point
// back to.
package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memcore/memcore/internal/model"
)

// Store is a sqlite-backed chunk store, single-writer WAL mode matching
// the rest of memcore's sqlite-backed stores.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Open opens (or creates) the chunk store at path. An empty path creates
// an in-memory store, used by tests.
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
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id                 TEXT PRIMARY KEY,
			source_path        TEXT NOT NULL,
			ordinal            INTEGER NOT NULL,
			text               TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			last_accessed_at   TEXT NOT NULL,
			access_count       INTEGER NOT NULL DEFAULT 0,
			stage              TEXT NOT NULL,
			score_mult         REAL NOT NULL,
			retention          TEXT NOT NULL,
			category           TEXT NOT NULL,
			decay_score        REAL,
			tags_json          TEXT NOT NULL,
			priority_high      INTEGER NOT NULL DEFAULT 0,
			personal_lifecycle INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_stage ON chunks(stage);
		CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_path);
	`)
	return err
}

// Put inserts or replaces a chunk's stored metadata and text.
func (s *Store) Put(ctx context.Context, c *model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal tagging envelope: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, source_path, ordinal, text, created_at, last_accessed_at,
			access_count, stage, score_mult, retention, category, decay_score, tags_json,
			priority_high, personal_lifecycle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			ordinal = excluded.ordinal,
			text = excluded.text,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count,
			stage = excluded.stage,
			score_mult = excluded.score_mult,
			retention = excluded.retention,
			category = excluded.category,
			decay_score = excluded.decay_score,
			tags_json = excluded.tags_json,
			priority_high = excluded.priority_high,
			personal_lifecycle = excluded.personal_lifecycle`,
		c.ID, c.SourcePath, c.Ordinal, c.Text,
		c.CreatedAt.Format(time.RFC3339Nano), c.LastAccessedAt.Format(time.RFC3339Nano),
		c.AccessCount, string(c.Stage), c.ScoreMult, string(c.Retention), string(c.Category),
		c.DecayScore, string(tagsJSON), boolToInt(c.PriorityHigh), boolToInt(c.PersonalLifecycle))
	return err
}

// Get retrieves one chunk by id.
func (s *Store) Get(ctx context.Context, id string) (*model.Chunk, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, fmt.Errorf("chunk store is closed")
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// GetBatch retrieves every chunk in ids present in the store, keyed by id.
func (s *Store) GetBatch(ctx context.Context, ids []string) (map[string]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}
	result := make(map[string]*model.Chunk, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE id IN (%s)`, selectColumns, string(placeholders))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result[c.ID] = c
	}
	return result, rows.Err()
}

// UpdateAccess bumps AccessCount and LastAccessedAt, used by
// on_query_hit() to feed the hot/cold classifier.
func (s *Store) UpdateAccess(ctx context.Context, id string, accessedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		accessedAt.Format(time.RFC3339Nano), id)
	return err
}

// SetStage transitions a chunk to a new lifecycle stage.
func (s *Store) SetStage(ctx context.Context, id string, stage model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET stage = ?, score_mult = ? WHERE id = ?`,
		string(stage), stage.ScoreMultiplier(), id)
	return err
}

// ListByStage returns every chunk currently in stage.
func (s *Store) ListByStage(ctx context.Context, stage model.Stage) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM chunks WHERE stage = ?`, string(stage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ListBySourcePath returns every chunk indexed from sourcePath, ordered
// by ordinal.
func (s *Store) ListBySourcePath(ctx context.Context, sourcePath string) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM chunks WHERE source_path = ? ORDER BY ordinal`, sourcePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Delete removes a chunk by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	return err
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

const selectColumns = `id, source_path, ordinal, text, created_at, last_accessed_at,
	access_count, stage, score_mult, retention, category, decay_score, tags_json,
	priority_high, personal_lifecycle`

// rowScanner abstracts over *sql.Row and *sql.Rows, which share Scan but
// not a common interface in database/sql.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*model.Chunk, error) {
	var c model.Chunk
	var createdAt, lastAccessedAt, tagsJSON string
	var priorityHigh, personalLifecycle int
	var decayScore sql.NullFloat64

	if err := row.Scan(&c.ID, &c.SourcePath, &c.Ordinal, &c.Text, &createdAt, &lastAccessedAt,
		&c.AccessCount, &c.Stage, &c.ScoreMult, &c.Retention, &c.Category, &decayScore, &tagsJSON,
		&priorityHigh, &personalLifecycle); err != nil {
		return nil, err
	}

	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.LastAccessedAt, err = time.Parse(time.RFC3339Nano, lastAccessedAt); err != nil {
		return nil, fmt.Errorf("parse last_accessed_at: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if decayScore.Valid {
		c.DecayScore = &decayScore.Float64
	}
	c.PriorityHigh = priorityHigh != 0
	c.PersonalLifecycle = personalLifecycle != 0
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
