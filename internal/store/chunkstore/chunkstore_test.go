package chunkstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
)

func sampleChunk(id string) *model.Chunk {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Chunk{
		ID:             id,
		SourcePath:     "/vault/notes.md",
		Ordinal:        0,
		Text:           "Python is widely used for machine learning",
		CreatedAt:      now,
		LastAccessedAt: now,
		Stage:          model.StageActive,
		ScoreMult:      1.0,
		Retention:      model.RetentionMid,
		Category:       model.CategorySemantic,
		Tags: model.TaggingEnvelope{
			Project: "demo",
			Intent:  model.IntentDocumentation,
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	c := sampleChunk("chunk1")
	require.NoError(t, s.Put(ctx, c))

	got, ok, err := s.Get(ctx, "chunk1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.Text, got.Text)
	assert.Equal(t, c.Tags.Project, got.Tags.Project)
	assert.Equal(t, model.StageActive, got.Stage)
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetBatchReturnsOnlyPresentChunks(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleChunk("a")))
	require.NoError(t, s.Put(ctx, sampleChunk("b")))

	batch, err := s.GetBatch(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Contains(t, batch, "a")
	assert.Contains(t, batch, "b")
}

func TestUpdateAccessIncrementsCount(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleChunk("chunk1")))
	accessedAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.UpdateAccess(ctx, "chunk1", accessedAt))

	got, ok, err := s.Get(ctx, "chunk1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.AccessCount)
	assert.WithinDuration(t, accessedAt, got.LastAccessedAt, time.Second)
}

func TestSetStageUpdatesScoreMultiplier(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleChunk("chunk1")))
	require.NoError(t, s.SetStage(ctx, "chunk1", model.StageArchived))

	got, ok, err := s.Get(ctx, "chunk1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StageArchived, got.Stage)
	assert.Equal(t, model.StageArchived.ScoreMultiplier(), got.ScoreMult)
}

func TestListByStageFiltersCorrectly(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	active := sampleChunk("active1")
	archived := sampleChunk("archived1")
	archived.Stage = model.StageArchived
	require.NoError(t, s.Put(ctx, active))
	require.NoError(t, s.Put(ctx, archived))

	chunks, err := s.ListByStage(ctx, model.StageArchived)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "archived1", chunks[0].ID)
}

func TestDeleteRemovesChunk(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleChunk("chunk1")))
	require.NoError(t, s.Delete(ctx, "chunk1"))

	_, ok, err := s.Get(ctx, "chunk1")
	require.NoError(t, err)
	assert.False(t, ok)
}
