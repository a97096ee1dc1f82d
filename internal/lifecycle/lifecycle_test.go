package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/config"
	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/eventlog"
	"github.com/memcore/memcore/internal/store/kv"
	"github.com/memcore/memcore/internal/store/vector"
)

// fixedClock returns a Clock pinned to t, used to drive the stage
// machine deterministically instead of sleeping in tests.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func newTestManager(t *testing.T) (*Manager, *chunkstore.Store, *kv.Store) {
	t.Helper()
	cs, err := chunkstore.Open("")
	require.NoError(t, err)
	vs, err := vector.New(vector.DefaultConfig(3))
	require.NoError(t, err)
	kvs, err := kv.Open("")
	require.NoError(t, err)
	evs, err := eventlog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = kvs.Close()
		_ = evs.Close()
	})

	mgr := New(cs, vs, kvs, evs, config.New(), nil)
	return mgr, cs, kvs
}

func putActiveChunk(t *testing.T, cs *chunkstore.Store, id string, lastAccessed time.Time) {
	t.Helper()
	require.NoError(t, cs.Put(context.Background(), &model.Chunk{
		ID:             id,
		SourcePath:     "vault/" + id + ".md",
		Text:           "Python is a popular language. Go is compiled and fast.",
		CreatedAt:      lastAccessed,
		LastAccessedAt: lastAccessed,
		Stage:          model.StageActive,
		ScoreMult:      1.0,
		Retention:      model.RetentionMid,
		Category:       model.CategorySemantic,
	}))
}

func TestTickDemotesIdleActiveChunks(t *testing.T) {
	mgr, cs, _ := newTestManager(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	putActiveChunk(t, cs, "chunk1", now.Add(-8*24*time.Hour))

	result, err := mgr.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Demoted)

	c, ok, err := cs.Get(context.Background(), "chunk1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StageDemoted, c.Stage)
}

func TestTickSkipsExemptChunks(t *testing.T) {
	mgr, cs, _ := newTestManager(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	putActiveChunk(t, cs, "chunk1", now.Add(-100*24*time.Hour))
	c, _, _ := cs.Get(context.Background(), "chunk1")
	c.PriorityHigh = true
	require.NoError(t, cs.Put(context.Background(), c))

	result, err := mgr.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Demoted)

	unchanged, _, _ := cs.Get(context.Background(), "chunk1")
	assert.Equal(t, model.StageActive, unchanged.Stage)
}

func TestTickArchivesAndRemovesFromVectorIndex(t *testing.T) {
	mgr, cs, kvs := newTestManager(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	require.NoError(t, cs.Put(context.Background(), &model.Chunk{
		ID:             "chunk1",
		SourcePath:     "vault/chunk1.md",
		Text:           "Python is great for scripting. NASA uses Python widely.",
		CreatedAt:      now.Add(-40 * 24 * time.Hour),
		LastAccessedAt: now.Add(-40 * 24 * time.Hour),
		Stage:          model.StageDemoted,
		ScoreMult:      0.5,
		Category:       model.CategorySemantic,
	}))
	require.NoError(t, mgr.vectors.Add(context.Background(), []string{"chunk1"}, [][]float32{{1, 0, 0}}))

	result, err := mgr.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)

	assert.False(t, mgr.vectors.Contains("chunk1"))

	summary, ok, err := kvs.Get(context.Background(), kvNamespace, archivedSummaryKey("chunk1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, summary)

	path, ok, err := kvs.Get(context.Background(), kvNamespace, archivedPathKey("chunk1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "vault/chunk1.md", path)
}

func TestTickDropsSummaryOnceRehydratable(t *testing.T) {
	mgr, cs, kvs := newTestManager(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))
	ctx := context.Background()

	require.NoError(t, cs.Put(ctx, &model.Chunk{
		ID:             "chunk1",
		SourcePath:     "vault/chunk1.md",
		Text:           "old content",
		CreatedAt:      now.Add(-100 * 24 * time.Hour),
		LastAccessedAt: now.Add(-100 * 24 * time.Hour),
		Stage:          model.StageArchived,
		ScoreMult:      0.1,
		Category:       model.CategorySemantic,
	}))
	require.NoError(t, kvs.Put(ctx, kvNamespace, archivedSummaryKey("chunk1"), "old content summary"))
	require.NoError(t, kvs.Put(ctx, kvNamespace, archivedPathKey("chunk1"), "vault/chunk1.md"))

	result, err := mgr.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rehydratable)

	_, ok, err := kvs.Get(ctx, kvNamespace, archivedSummaryKey("chunk1"))
	require.NoError(t, err)
	assert.False(t, ok)

	path, ok, err := kvs.Get(ctx, kvNamespace, rehydratablePathKey("chunk1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "vault/chunk1.md", path)
}

type fakeReindexer struct {
	calledWith string
	ids        []string
	err        error
}

func (f *fakeReindexer) Reindex(_ context.Context, sourcePath string) ([]string, error) {
	f.calledWith = sourcePath
	return f.ids, f.err
}

func TestRehydrateFailsWithoutReindexer(t *testing.T) {
	mgr, cs, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, cs.Put(ctx, &model.Chunk{ID: "chunk1", SourcePath: "vault/chunk1.md", Stage: model.StageArchived}))

	_, err := mgr.Rehydrate(ctx, "chunk1")
	require.Error(t, err)
}

func TestRehydrateRestoresActiveStageAndClearsKVKeys(t *testing.T) {
	mgr, cs, kvs := newTestManager(t)
	ctx := context.Background()
	reindexer := &fakeReindexer{ids: []string{"chunk1"}}
	mgr.reindexer = reindexer

	require.NoError(t, cs.Put(ctx, &model.Chunk{
		ID:         "chunk1",
		SourcePath: "vault/chunk1.md",
		Stage:      model.StageArchived,
	}))
	require.NoError(t, kvs.Put(ctx, kvNamespace, archivedSummaryKey("chunk1"), "summary"))
	require.NoError(t, kvs.Put(ctx, kvNamespace, archivedPathKey("chunk1"), "vault/chunk1.md"))

	restored, err := mgr.Rehydrate(ctx, "chunk1")
	require.NoError(t, err)
	assert.Equal(t, model.StageActive, restored.Stage)
	assert.Equal(t, "vault/chunk1.md", reindexer.calledWith)

	_, ok, _ := kvs.Get(ctx, kvNamespace, archivedSummaryKey("chunk1"))
	assert.False(t, ok)
}

func TestClassifyWeightsRecencyFrequencyAndCategory(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.WithClock(fixedClock(now))

	hot := &model.Chunk{LastAccessedAt: now, AccessCount: 10, Category: model.CategorySemantic}
	cold := &model.Chunk{LastAccessedAt: now.Add(-60 * 24 * time.Hour), AccessCount: 1, Category: model.CategoryEpisodic}

	assert.Greater(t, mgr.Classify(hot), mgr.Classify(cold))
}
