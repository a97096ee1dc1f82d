package graphstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/memcore/memcore/internal/model"
)

type walEntryKind string

const (
	walEntryNode walEntryKind = "node"
	walEntryEdge walEntryKind = "edge"
)

type walEntry struct {
	Kind   walEntryKind   `json:"kind"`
	Entity *model.Entity  `json:"entity,omitempty"`
	Edge   *model.Edge    `json:"edge,omitempty"`
}

// walWriter appends graph mutations to a log so Save's snapshot can trail
// behind writes without losing them on a crash.
type walWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func newWALWriter(path string) (*walWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}
	return &walWriter{path: path, f: f}, nil
}

func (w *walWriter) appendNode(e *model.Entity) error {
	return w.append(walEntry{Kind: walEntryNode, Entity: e})
}

func (w *walWriter) appendEdge(e *model.Edge) error {
	return w.append(walEntry{Kind: walEntryEdge, Edge: e})
}

func (w *walWriter) append(entry walEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.f.Sync()
}

// truncate empties the log after its entries have been captured in a
// snapshot.
func (w *walWriter) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	return nil
}

// replay applies every entry in the log to s, used when restoring from a
// snapshot that may predate the most recent writes.
func (w *walWriter) replay(s *Store) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry walEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return err
		}
		switch entry.Kind {
		case walEntryNode:
			s.nodes[entry.Entity.ID] = entry.Entity
		case walEntryEdge:
			key := edgeKey{kind: entry.Edge.Kind, from: entry.Edge.From}
			if s.edges[key] == nil {
				s.edges[key] = make(map[string]*model.Edge)
			}
			s.edges[key][entry.Edge.To] = entry.Edge
			if entry.Edge.Kind == model.EdgeMentions {
				if s.mentionedBy[entry.Edge.To] == nil {
					s.mentionedBy[entry.Edge.To] = make(map[string]struct{})
				}
				s.mentionedBy[entry.Edge.To][entry.Edge.From] = struct{}{}
			}
		}
	}
	return scanner.Err()
}
