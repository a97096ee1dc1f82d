// Package vector implements the vector retrieval tier on top of an
// in-process HNSW approximate nearest-neighbor index.
package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/memcore/memcore/internal/errors"
)

// Config configures the vector store. Dimension must match
// model.EmbeddingDimensions (384).
type Config struct {
	CollectionName string
	Dimension      int
	M              int
	EfSearch       int
}

// DefaultConfig returns the spec's default HNSW parameters.
func DefaultConfig(dimension int) Config {
	return Config{
		CollectionName: "default",
		Dimension:      dimension,
		M:              16,
		EfSearch:       20,
	}
}

// Result is one scored vector hit. Score is normalized to [0, 1], higher
// is more similar.
type Result struct {
	ID       string
	Distance float32
	Score    float32
}

// metadata is what gets persisted alongside the HNSW graph so the store
// can be reopened with its id mapping intact.
type metadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  Config
	Vectors map[string][]float32
}

// Store is the HNSW-backed vector tier storage.
type Store struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	// vectors caches each live id's normalized embedding, so callers that
	// need raw vectors for downstream similarity comparisons (nexus's
	// near-duplicate collapse) don't have to re-embed or re-search.
	vectors map[string][]float32

	closed bool
}

// New creates a vector store using cosine distance, per spec §3.
func New(cfg Config) (*Store, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Store{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[string][]float32),
		nextKey: 0,
	}, nil
}

// Add inserts (or replaces, via lazy deletion) vectors by id.
func (s *Store) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	// Writers are serialized with retry on transient lock contention
	// (spec §4.2), bounded at 3 retries rather than blocking indefinitely
	// behind a long-running Search/Save holder.
	lockErr := errors.Retry(ctx, errors.DefaultRetryConfig(), func() error {
		if s.mu.TryLock() {
			return nil
		}
		return errors.New(errors.ErrCodeLockContention, "vector store busy", nil)
	})
	if lockErr != nil {
		return fmt.Errorf("acquire vector store lock: %w", lockErr)
	}
	defer s.mu.Unlock()

	if s.closed {
		return errors.InternalError("vector store is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimension {
			return errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", s.config.Dimension, len(v)), nil)
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			// Lazy deletion: coder/hnsw can corrupt its graph if the last
			// node is physically removed, so orphan the old key instead.
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
		s.vectors[id] = vec
	}

	return nil
}

// Vector returns the stored (normalized) embedding for id, if present.
func (s *Store) Vector(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Search returns up to k nearest neighbors to query.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.InternalError("vector store is closed", nil)
	}
	if len(query) != s.config.Dimension {
		return nil, errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", s.config.Dimension, len(query)), nil)
	}
	if s.graph.Len() == 0 {
		return []*Result{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := s.graph.Search(normalized, k)

	results := make([]*Result, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &Result{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance),
		})
	}

	return results, nil
}

// Delete removes vectors by id using lazy deletion.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.InternalError("vector store is closed", nil)
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.vectors, id)
		}
	}
	return nil
}

// Contains reports whether id is present.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live (non-orphaned) vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and id mapping to disk (atomic rename).
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.InternalError("vector store is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *Store) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := metadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load loads a previously saved graph and id mapping from disk.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.InternalError("vector store is closed", nil)
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (s *Store) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("close metadata file failed", slog.String("error", err.Error()))
		}
	}()

	var meta metadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = meta.NextKey
	s.config = meta.Config
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources. The store is unusable afterward.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance (range [0, 2]) to a [0, 1]
// similarity score. Values below zero (possible from float rounding on
// near-opposite vectors) are clamped and logged rather than propagated.
func distanceToScore(distance float32) float32 {
	score := 1.0 - distance/2.0
	if score < 0 {
		slog.Warn("vector score clamped to zero", slog.Float64("raw_score", float64(score)))
		return 0
	}
	return score
}
