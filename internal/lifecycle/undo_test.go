package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
)

func TestDeleteThenUndoWithinWindowRestoresChunk(t *testing.T) {
	mgr, cs, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	require.NoError(t, cs.Put(ctx, &model.Chunk{
		ID:         "chunk1",
		SourcePath: "vault/chunk1.md",
		Stage:      model.StageActive,
	}))
	require.NoError(t, mgr.vectors.Add(ctx, []string{"chunk1"}, [][]float32{{1, 0, 0}}))

	require.NoError(t, mgr.Delete(ctx, "chunk1"))

	_, ok, err := cs.Get(ctx, "chunk1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mgr.vectors.Contains("chunk1"))

	require.NoError(t, mgr.Undo(ctx, "chunk1"))

	restored, ok, err := cs.Get(ctx, "chunk1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "vault/chunk1.md", restored.SourcePath)
}

func TestUndoAfterWindowElapsedFails(t *testing.T) {
	mgr, cs, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	require.NoError(t, cs.Put(ctx, &model.Chunk{ID: "chunk1", SourcePath: "vault/chunk1.md", Stage: model.StageActive}))
	require.NoError(t, mgr.Delete(ctx, "chunk1"))

	mgr.WithClock(fixedClock(now.Add(8 * 24 * time.Hour)))
	err := mgr.Undo(ctx, "chunk1")
	assert.Error(t, err)
}

func TestPurgeExpiredNotifiesOnLastCopy(t *testing.T) {
	mgr, cs, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	require.NoError(t, cs.Put(ctx, &model.Chunk{
		ID:         "chunk1",
		SourcePath: "vault/chunk1.md",
		Stage:      model.StageRehydratable,
	}))
	require.NoError(t, mgr.Delete(ctx, "chunk1"))

	var notified string
	mgr.WithNotifier(notifierFunc(func(_ context.Context, chunkID, sourcePath string) error {
		notified = chunkID
		return nil
	}))

	mgr.WithClock(fixedClock(now.Add(8 * 24 * time.Hour)))
	purged, err := mgr.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Equal(t, "chunk1", notified)
}

func TestPurgeExpiredSkipsWithinWindow(t *testing.T) {
	mgr, cs, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	require.NoError(t, cs.Put(ctx, &model.Chunk{ID: "chunk1", SourcePath: "vault/chunk1.md", Stage: model.StageActive}))
	require.NoError(t, mgr.Delete(ctx, "chunk1"))

	purged, err := mgr.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}

// notifierFunc adapts a function to the Notifier interface.
type notifierFunc func(ctx context.Context, chunkID, sourcePath string) error

func (f notifierFunc) NotifyPendingPurge(ctx context.Context, chunkID, sourcePath string) error {
	return f(ctx, chunkID, sourcePath)
}
