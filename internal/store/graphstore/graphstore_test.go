package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
)

func TestUpsertEntityEnforcesNodeCap(t *testing.T) {
	s, err := New(1, "")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.UpsertEntity(ctx, &model.Entity{ID: "a"}))
	err = s.UpsertEntity(ctx, &model.Entity{ID: "b"})
	assert.ErrorIs(t, err, ErrNodeCapExceeded)
}

func TestUpsertEdgeMutualCreatesReverse(t *testing.T) {
	s, err := New(0, "")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeRelatedTo, From: "a", To: "b", Mutual: true}))

	assert.Equal(t, []string{"b"}, s.Neighbors("a", model.EdgeRelatedTo))
	assert.Equal(t, []string{"a"}, s.Neighbors("b", model.EdgeRelatedTo))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "graph.json")

	s, err := New(0, "")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.UpsertEntity(ctx, &model.Entity{ID: "a", DisplayName: "Alpha"}))
	require.NoError(t, s.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk1", To: "a"}))
	require.NoError(t, s.Save(snapshotPath))

	loaded, err := Load(snapshotPath, 0, "")
	require.NoError(t, err)
	ent, ok := loaded.GetEntity("a")
	require.True(t, ok)
	assert.Equal(t, "Alpha", ent.DisplayName)
	assert.Equal(t, []string{"a"}, loaded.Neighbors("chunk1", model.EdgeMentions))
}

func TestMentionedByReturnsMentioningChunks(t *testing.T) {
	s, err := New(0, "")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk1", To: "python"}))
	require.NoError(t, s.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk2", To: "python"}))

	assert.ElementsMatch(t, []string{"chunk1", "chunk2"}, s.MentionedBy("python"))
}

func TestWALReplayRecoversUnsavedWrites(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "graph.json")
	walPath := filepath.Join(dir, "graph.wal")

	s, err := New(0, walPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.UpsertEntity(ctx, &model.Entity{ID: "a"}))
	require.NoError(t, s.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk1", To: "a"}))
	// No Save call: snapshot never written, only the WAL has these writes.

	recovered, err := Load(snapshotPath, 0, walPath)
	require.NoError(t, err)
	_, ok := recovered.GetEntity("a")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, recovered.Neighbors("chunk1", model.EdgeMentions))
}
