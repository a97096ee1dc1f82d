package tiers

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/graphstore"
)

func buildTestGraph(t *testing.T) *graphstore.Store {
	t.Helper()
	g, err := graphstore.New(0, "")
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"python", "rust", "golang"} {
		require.NoError(t, g.UpsertEntity(ctx, &model.Entity{ID: id, DisplayName: id}))
	}

	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeRelatedTo, From: "python", To: "rust", Mutual: true}))
	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeRelatedTo, From: "rust", To: "golang", Mutual: true}))

	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk1", To: "python"}))
	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk2", To: "python"}))
	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk3", To: "rust"}))
	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk4", To: "golang"}))

	return g
}

func TestQueryReturnsEmptyWhenNoSeedsMatch(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	candidates, err := tier.Query(context.Background(), "something unrelated entirely", 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestQueryRanksMentioningChunksBySeedEntity(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	candidates, err := tier.Query(context.Background(), "tell me about Python", 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	// chunk1 and chunk2 both mention python directly, so they should rank
	// at or near the top.
	top := map[string]bool{candidates[0].ChunkID: true}
	if len(candidates) > 1 {
		top[candidates[1].ChunkID] = true
	}
	assert.True(t, top["chunk1"] || top["chunk2"])
}

func TestQueryRespectsTopK(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	candidates, err := tier.Query(context.Background(), "Python", 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(candidates), 1)
}

func TestPersonalizedPageRankConservesMass(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	scores := tier.personalizedPageRank([]string{"python"})
	var sum float64
	for _, s := range scores {
		sum += s
	}
	assert.Less(t, math.Abs(sum-1.0), 1e-3)
}

func TestDegreeCentralityFallbackConservesMass(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	entities := g.AllEntities()
	ids := make([]string, len(entities))
	index := make(map[string]int, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
		index[e.ID] = i
	}

	scores := tier.degreeCentralityFallback(ids, index, []string{"python"})
	var sum float64
	for _, s := range scores {
		sum += s
	}
	assert.Less(t, math.Abs(sum-1.0), 1e-3)
}

func TestExpandSeedsFollowsRelatedToUpToMaxHops(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	expanded := tier.expandSeeds([]string{"python"}, 2)
	assert.Contains(t, expanded, "python")
	assert.Contains(t, expanded, "rust")
	assert.Contains(t, expanded, "golang")
}

func TestExpandSeedsRespectsHopLimit(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	expanded := tier.expandSeeds([]string{"python"}, 1)
	assert.Contains(t, expanded, "rust")
	assert.NotContains(t, expanded, "golang")
}

func TestQueryMultiHopReachesIndirectlyConnectedChunks(t *testing.T) {
	g := buildTestGraph(t)
	tier := NewGraphTier(g, DefaultPPRConfig())

	candidates, err := tier.QueryMultiHop(context.Background(), "Python", 10)
	require.NoError(t, err)

	ids := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		ids[c.ChunkID] = true
	}
	assert.True(t, ids["chunk4"], "multi-hop query should reach golang's mentioning chunk through python->rust->golang")
}

func TestQueryOnEmptyGraphReturnsEmpty(t *testing.T) {
	g, err := graphstore.New(0, "")
	require.NoError(t, err)
	tier := NewGraphTier(g, DefaultPPRConfig())

	candidates, err := tier.Query(context.Background(), "Python", 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
