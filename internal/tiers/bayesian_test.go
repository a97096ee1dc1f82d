package tiers

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/graphstore"
	"github.com/memcore/memcore/internal/store/kv"
)

func buildBayesianFixture(t *testing.T) (*graphstore.Store, *kv.Store) {
	t.Helper()
	g, err := graphstore.New(0, "")
	require.NoError(t, err)
	kvStore, err := kv.Open("")
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"python", "rust", "golang"} {
		require.NoError(t, g.UpsertEntity(ctx, &model.Entity{ID: id, DisplayName: id}))
	}
	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeRelatedTo, From: "rust", To: "python", Weight: 0.8}))
	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeRelatedTo, From: "golang", To: "python", Weight: 0.1}))

	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk1", To: "python"}))
	require.NoError(t, g.UpsertEdge(ctx, &model.Edge{Kind: model.EdgeMentions, From: "chunk2", To: "rust"}))

	return g, kvStore
}

func TestBuildNetworkPrunesLowConfidenceEdges(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	tier := NewBayesianTier(g, kvStore, DefaultBayesianConfig())

	network, err := tier.buildNetwork(context.Background())
	require.NoError(t, err)

	// golang->python has weight 0.1, below MinEdgeConfidence 0.3, so
	// golang should end up with no parent.
	assert.Empty(t, network.Nodes["golang"].Parents)
	// rust->python clears the 0.3 threshold.
	assert.Equal(t, []string{"python"}, network.Nodes["rust"].Parents)
}

func TestBuildNetworkUsesUniformPriorWithoutObservations(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	tier := NewBayesianTier(g, kvStore, DefaultBayesianConfig())

	network, err := tier.buildNetwork(context.Background())
	require.NoError(t, err)
	assert.True(t, network.Structural)
	assert.Equal(t, []float64{0.5, 0.5}, network.Nodes["python"].CPD[""])
}

func TestObserveCooccurrenceFeedsCPDEstimate(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	tier := NewBayesianTier(g, kvStore, DefaultBayesianConfig())
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, tier.ObserveCooccurrence(ctx, "rust", stateHigh, stateHigh))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, tier.ObserveCooccurrence(ctx, "rust", stateHigh, stateLow))
	}

	network, err := tier.buildNetwork(ctx)
	require.NoError(t, err)
	assert.False(t, network.Structural)
	dist := network.Nodes["rust"].CPD[stateHigh]
	assert.InDelta(t, 0.2, dist[0], 1e-9)
	assert.InDelta(t, 0.8, dist[1], 1e-9)
}

func TestQueryReturnsEmptyWhenNoSeedsMatchBayesian(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	tier := NewBayesianTier(g, kvStore, DefaultBayesianConfig())

	candidates, err := tier.Query(context.Background(), "something unrelated", 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestQueryRanksChunksMentioningEvidenceEntity(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	tier := NewBayesianTier(g, kvStore, DefaultBayesianConfig())

	candidates, err := tier.Query(context.Background(), "Python", 10)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	ids := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		ids[c.ChunkID] = true
	}
	assert.True(t, ids["chunk1"] || ids["chunk2"])
}

func TestVariableEliminationClampsEvidenceToOne(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	tier := NewBayesianTier(g, kvStore, DefaultBayesianConfig())
	network, err := tier.buildNetwork(context.Background())
	require.NoError(t, err)

	posteriors := variableElimination(network, []string{"python"}, []string{"python", "rust"})
	assert.InDelta(t, 1.0, posteriors["python"], 1e-9)
	assert.GreaterOrEqual(t, posteriors["rust"], 0.0)
	assert.LessOrEqual(t, posteriors["rust"], 1.0)
}

func TestGibbsSampleProducesValidProbabilities(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	cfg := DefaultBayesianConfig()
	cfg.GibbsBurnIn = 10
	cfg.GibbsSamples = 50
	tier := NewBayesianTier(g, kvStore, cfg)
	network, err := tier.buildNetwork(context.Background())
	require.NoError(t, err)

	posteriors := gibbsSample(context.Background(), network, []string{"python"}, []string{"python", "rust", "golang"}, cfg)
	for _, v := range posteriors {
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, 1.0, posteriors["python"])
}

func TestGibbsSampleRespectsDeadline(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	cfg := DefaultBayesianConfig()
	cfg.GibbsBurnIn = 1_000_000
	cfg.GibbsSamples = 1_000_000
	tier := NewBayesianTier(g, kvStore, cfg)
	network, err := tier.buildNetwork(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	// Should return immediately with whatever partial state it has
	// rather than blocking until a million iterations complete.
	posteriors := gibbsSample(ctx, network, []string{"python"}, []string{"python", "rust"}, cfg)
	assert.Contains(t, posteriors, "python")
}

func TestHealthReportsUnbuiltNetwork(t *testing.T) {
	g, kvStore := buildBayesianFixture(t)
	tier := NewBayesianTier(g, kvStore, DefaultBayesianConfig())
	status := tier.Health()
	assert.False(t, status.Healthy)

	_, err := tier.ensureNetwork(context.Background())
	require.NoError(t, err)
	assert.True(t, tier.Health().Healthy)
}
