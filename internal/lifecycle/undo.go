package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memcore/memcore/internal/model"
)

// undoWindow is the spec's fixed 7-day grace period between a soft
// delete and its irreversible purge.
const undoWindow = 7 * 24 * time.Hour

// undoNamespace holds pending-deletion records, separate from the
// archival kvNamespace so a purge sweep only has to scan one namespace.
const undoNamespace = "lifecycle_undo"

// undoRecord is everything needed to restore a chunk that is pending
// deletion.
type undoRecord struct {
	ChunkID    string    `json:"chunk_id"`
	SourcePath string    `json:"source_path"`
	Stage      string    `json:"stage"`
	LossyKey   string    `json:"lossy_key,omitempty"`
	DeletedAt  time.Time `json:"deleted_at"`
	LastCopy   bool      `json:"last_copy"`
}

// Notifier is consulted before a purge that would remove the last copy
// of a chunk (a rehydratable-only chunk with no surviving source
// record), per spec §4.6.
type Notifier interface {
	NotifyPendingPurge(ctx context.Context, chunkID, sourcePath string) error
}

// noopNotifier is the default when no Notifier is configured: it lets
// the purge proceed without surfacing a review step, logged via the
// event it still appends.
type noopNotifier struct{}

func (noopNotifier) NotifyPendingPurge(context.Context, string, string) error { return nil }

// WithNotifier overrides the manager's pending-purge notifier.
func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.notifier = n
	return m
}

// Delete soft-deletes a chunk: it is removed from the chunk store and
// vector index immediately, but its restoration data is retained in the
// undo store for undoWindow before PurgeExpired makes it permanent.
func (m *Manager) Delete(ctx context.Context, chunkID string) error {
	c, ok, err := m.chunks.Get(ctx, chunkID)
	if err != nil {
		return fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	if !ok {
		return nil // already gone
	}

	record := undoRecord{
		ChunkID:    chunkID,
		SourcePath: c.SourcePath,
		Stage:      string(c.Stage),
		DeletedAt:  m.clock(),
		LastCopy:   c.Stage == model.StageRehydratable,
	}
	if c.Stage == model.StageArchived || c.Stage == model.StageRehydratable {
		if summary, ok, _ := m.kv.Get(ctx, kvNamespace, archivedSummaryKey(chunkID)); ok {
			record.LossyKey = summary
		}
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode undo record for %s: %w", chunkID, err)
	}
	if err := m.kv.Put(ctx, undoNamespace, chunkID, string(encoded)); err != nil {
		return fmt.Errorf("store undo record for %s: %w", chunkID, err)
	}

	if m.vectors != nil {
		if err := m.vectors.Delete(ctx, []string{chunkID}); err != nil {
			return fmt.Errorf("remove %s from vector index: %w", chunkID, err)
		}
	}
	if err := m.chunks.Delete(ctx, chunkID); err != nil {
		return fmt.Errorf("delete chunk %s: %w", chunkID, err)
	}

	_, err = m.events.Append(ctx, model.EventDelete, "", map[string]string{"chunk_id": chunkID})
	return err
}

// Undo restores a chunk within its undo window. It recreates the chunk
// store row at its pre-deletion stage; the caller is responsible for
// re-indexing the vector entry if the restored stage requires one
// (active/demoted), typically by calling Rehydrate.
func (m *Manager) Undo(ctx context.Context, chunkID string) error {
	encoded, ok, err := m.kv.Get(ctx, undoNamespace, chunkID)
	if err != nil {
		return fmt.Errorf("get undo record for %s: %w", chunkID, err)
	}
	if !ok {
		return fmt.Errorf("no pending deletion for %s", chunkID)
	}

	var record undoRecord
	if err := json.Unmarshal([]byte(encoded), &record); err != nil {
		return fmt.Errorf("decode undo record for %s: %w", chunkID, err)
	}
	if m.clock().Sub(record.DeletedAt) > undoWindow {
		return fmt.Errorf("undo window for %s has elapsed", chunkID)
	}

	restored := &model.Chunk{
		ID:             chunkID,
		SourcePath:     record.SourcePath,
		Text:           record.LossyKey,
		CreatedAt:      m.clock(),
		LastAccessedAt: m.clock(),
		Stage:          model.Stage(record.Stage),
		ScoreMult:      model.Stage(record.Stage).ScoreMultiplier(),
	}
	if err := m.chunks.Put(ctx, restored); err != nil {
		return fmt.Errorf("restore chunk %s: %w", chunkID, err)
	}
	return m.kv.Delete(ctx, undoNamespace, chunkID)
}

// PurgeExpired finalizes every soft deletion whose undo window has
// elapsed. A chunk marked LastCopy (rehydratable-only at time of
// deletion) is routed through the Notifier before its undo record is
// removed, since that record was the only remaining trace of the
// chunk's source.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	notifier := m.notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	keys, err := m.kv.ListKeys(ctx, undoNamespace)
	if err != nil {
		return 0, fmt.Errorf("list pending deletions: %w", err)
	}

	purged := 0
	now := m.clock()
	for _, chunkID := range keys {
		encoded, ok, err := m.kv.Get(ctx, undoNamespace, chunkID)
		if err != nil {
			return purged, err
		}
		if !ok {
			continue
		}
		var record undoRecord
		if err := json.Unmarshal([]byte(encoded), &record); err != nil {
			return purged, fmt.Errorf("decode undo record for %s: %w", chunkID, err)
		}
		if now.Sub(record.DeletedAt) < undoWindow {
			continue
		}

		if record.LastCopy {
			if err := notifier.NotifyPendingPurge(ctx, chunkID, record.SourcePath); err != nil {
				return purged, fmt.Errorf("notify pending purge for %s: %w", chunkID, err)
			}
		}

		if err := m.kv.Delete(ctx, undoNamespace, chunkID); err != nil {
			return purged, fmt.Errorf("purge undo record for %s: %w", chunkID, err)
		}
		if _, err := m.events.Append(ctx, model.EventPurge, "", map[string]string{"chunk_id": chunkID}); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
