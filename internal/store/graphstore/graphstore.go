// Package graphstore holds the entity graph the HippoRAG-style graph tier
// traverses: entities as nodes, mentions/references/similar_to/related_to
// as edges. State lives in memory and is persisted as a node-link JSON
// document, with a write-ahead log so a crash mid-write never corrupts the
// on-disk snapshot.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/memcore/memcore/internal/model"
)

// ErrNodeCapExceeded is returned when adding an entity would exceed MaxNodes.
var ErrNodeCapExceeded = fmt.Errorf("graph node cap exceeded")

type edgeKey struct {
	kind model.EdgeKind
	from string
}

// Store is an in-memory, mutex-guarded entity graph with JSON persistence.
type Store struct {
	mu       sync.RWMutex
	nodes    map[string]*model.Entity
	edges    map[edgeKey]map[string]*model.Edge
	maxNodes int
	wal      *walWriter

	// mentionedBy is a reverse index over `mentions` edges (chunk -> entity),
	// letting the graph tier aggregate PPR mass onto the chunks that
	// mention each scored entity without a linear scan.
	mentionedBy map[string]map[string]struct{}
}

// document is the node-link JSON shape persisted to disk, matching the
// conventional node-link graph serialization format.
type document struct {
	Nodes []*model.Entity `json:"nodes"`
	Links []*model.Edge   `json:"links"`
}

// New creates an empty graph store enforcing maxNodes. walPath, if
// non-empty, enables write-ahead logging for crash-safe persistence.
func New(maxNodes int, walPath string) (*Store, error) {
	s := &Store{
		nodes:       make(map[string]*model.Entity),
		edges:       make(map[edgeKey]map[string]*model.Edge),
		maxNodes:    maxNodes,
		mentionedBy: make(map[string]map[string]struct{}),
	}
	if walPath != "" {
		w, err := newWALWriter(walPath)
		if err != nil {
			return nil, fmt.Errorf("open wal: %w", err)
		}
		s.wal = w
	}
	return s, nil
}

// UpsertEntity inserts or updates an entity node. Returns ErrNodeCapExceeded
// if the entity is new and the store is already at maxNodes.
func (s *Store) UpsertEntity(ctx context.Context, e *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[e.ID]; !exists && s.maxNodes > 0 && len(s.nodes) >= s.maxNodes {
		return ErrNodeCapExceeded
	}

	s.nodes[e.ID] = e
	if s.wal != nil {
		if err := s.wal.appendNode(e); err != nil {
			return fmt.Errorf("wal append node: %w", err)
		}
	}
	return nil
}

// UpsertEdge inserts or updates an edge. Orphan edges referencing a
// not-yet-seen chunk id are tolerated (the chunk may be registered by a
// later ingestion step); traversal simply skips nodes it cannot resolve.
func (s *Store) UpsertEdge(ctx context.Context, e *model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{kind: e.Kind, from: e.From}
	if s.edges[key] == nil {
		s.edges[key] = make(map[string]*model.Edge)
	}
	s.edges[key][e.To] = e

	if e.Kind == model.EdgeMentions {
		if s.mentionedBy[e.To] == nil {
			s.mentionedBy[e.To] = make(map[string]struct{})
		}
		s.mentionedBy[e.To][e.From] = struct{}{}
	}

	if e.Mutual {
		revKey := edgeKey{kind: e.Kind, from: e.To}
		if s.edges[revKey] == nil {
			s.edges[revKey] = make(map[string]*model.Edge)
		}
		rev := *e
		rev.From, rev.To = e.To, e.From
		s.edges[revKey][e.From] = &rev
	}

	if s.wal != nil {
		if err := s.wal.appendEdge(e); err != nil {
			return fmt.Errorf("wal append edge: %w", err)
		}
	}
	return nil
}

// RemoveChunkMentions removes every mentions edge outbound from chunkID
// and drops any entity whose mentionedBy set becomes empty as a result,
// since an entity with no remaining mentions is an orphan left over from
// a deleted or re-indexed chunk. Returns the removed entity ids, sorted.
// Bypasses the write-ahead log: a crash between this call and the next
// Save can resurrect a removed mention, which is acceptable since this
// path only ever runs as best-effort ingestion cleanup, never to satisfy
// a correctness invariant.
func (s *Store) RemoveChunkMentions(chunkID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{kind: model.EdgeMentions, from: chunkID}
	edges, ok := s.edges[key]
	if !ok {
		return nil
	}

	var orphans []string
	for entityID := range edges {
		if s.mentionedBy[entityID] != nil {
			delete(s.mentionedBy[entityID], chunkID)
		}
		if len(s.mentionedBy[entityID]) == 0 {
			delete(s.mentionedBy, entityID)
			delete(s.nodes, entityID)
			orphans = append(orphans, entityID)
		}
	}
	delete(s.edges, key)

	sort.Strings(orphans)
	return orphans
}

// GetEntity returns the entity with the given id, if present.
func (s *Store) GetEntity(id string) (*model.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes[id]
	return e, ok
}

// Neighbors returns the ids reachable from id via edges of kind, sorted for
// determinism.
func (s *Store) Neighbors(id string, kind model.EdgeKind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges, ok := s.edges[edgeKey{kind: kind, from: id}]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(edges))
	for to := range edges {
		ids = append(ids, to)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns every outbound edge of kind from id.
func (s *Store) Edges(id string, kind model.EdgeKind) []*model.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDst, ok := s.edges[edgeKey{kind: kind, from: id}]
	if !ok {
		return nil
	}
	edges := make([]*model.Edge, 0, len(byDst))
	for _, e := range byDst {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	return edges
}

// MentionedBy returns the chunk ids that mention entityID, sorted for
// determinism.
func (s *Store) MentionedBy(entityID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, ok := s.mentionedBy[entityID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(chunks))
	for id := range chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of entity nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// AllEntities returns every entity, sorted by id for deterministic
// Bayesian-network construction order.
func (s *Store) AllEntities() []*model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entities := make([]*model.Entity, 0, len(s.nodes))
	for _, e := range s.nodes {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}

// Save writes the full graph as a node-link JSON document (atomic rename)
// and truncates the write-ahead log, since its entries are now durable in
// the snapshot.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	doc := document{Nodes: s.AllEntities()}
	for _, byDst := range s.edges {
		for _, e := range byDst {
			doc.Links = append(doc.Links, e)
		}
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write graph snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename graph snapshot: %w", err)
	}

	if s.wal != nil {
		return s.wal.truncate()
	}
	return nil
}

// Load restores the graph from a node-link JSON snapshot, then replays any
// write-ahead log entries appended after that snapshot was taken.
func Load(path string, maxNodes int, walPath string) (*Store, error) {
	s, err := New(maxNodes, "")
	if err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(path); err == nil {
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal graph snapshot: %w", err)
		}
		for _, n := range doc.Nodes {
			s.nodes[n.ID] = n
		}
		for _, e := range doc.Links {
			key := edgeKey{kind: e.Kind, from: e.From}
			if s.edges[key] == nil {
				s.edges[key] = make(map[string]*model.Edge)
			}
			s.edges[key][e.To] = e
			if e.Kind == model.EdgeMentions {
				if s.mentionedBy[e.To] == nil {
					s.mentionedBy[e.To] = make(map[string]struct{})
				}
				s.mentionedBy[e.To][e.From] = struct{}{}
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read graph snapshot: %w", err)
	}

	if walPath != "" {
		w, err := newWALWriter(walPath)
		if err != nil {
			return nil, fmt.Errorf("open wal: %w", err)
		}
		s.wal = w
		if err := w.replay(s); err != nil {
			return nil, fmt.Errorf("replay wal: %w", err)
		}
	}

	return s, nil
}
