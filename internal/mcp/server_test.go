package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/chunk"
	"github.com/memcore/memcore/internal/config"
	"github.com/memcore/memcore/internal/embed"
	"github.com/memcore/memcore/internal/ingest"
	"github.com/memcore/memcore/internal/nexus"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/eventlog"
	"github.com/memcore/memcore/internal/store/graphstore"
	"github.com/memcore/memcore/internal/store/vector"
	"github.com/memcore/memcore/internal/tiers"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	embedder := embed.NewStaticEmbedder()
	chunker := chunk.New(embedder, chunk.DefaultOptions())

	cs, err := chunkstore.Open("")
	require.NoError(t, err)
	vs, err := vector.New(vector.DefaultConfig(embedder.Dimensions()))
	require.NoError(t, err)
	gs, err := graphstore.New(0, "")
	require.NoError(t, err)
	evs, err := eventlog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = evs.Close()
	})

	indexer := ingest.New(chunker, embedder, cs, vs, gs, evs)
	vectorTier := tiers.NewVectorTier(vs, embedder)
	graphTier := tiers.NewGraphTier(gs, tiers.DefaultPPRConfig())

	// Zero out the per-mode compression floors for this test's pipeline:
	// with only one or two tiers wired (never all three), a fused score
	// can never reach the production defaults tuned for a full fan-out,
	// and these tests care about plumbing, not score calibration. A zero
	// confidence threshold makes the filter fall back to its 0.3 default.
	cfg := config.New()
	cfg.Nexus.ConfidenceThreshold = 0
	cfg.Modes.Execution.Threshold = 0
	cfg.Modes.Planning.Threshold = 0
	cfg.Modes.Brainstorming.Threshold = 0
	pipeline := nexus.New([]tiers.Tier{vectorTier, graphTier}, cs, nil, cfg).WithVectorStore(vs)

	srv, err := NewServer(pipeline, vectorTier, graphTier, gs, cs, indexer)
	require.NoError(t, err)
	return srv
}

func TestNewServerRejectsNilVectorTier(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleMemoryStoreThenVectorSearchFindsIt(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, storeOut, err := srv.handleMemoryStore(ctx, nil, MemoryStoreInput{
		Text: "# Rust\n\nRust is a systems programming language. Rust enforces memory safety at compile time.",
	})
	require.NoError(t, err)
	assert.Greater(t, storeOut.ChunksCreated, 0)
	assert.Len(t, storeOut.ChunkIDs, storeOut.ChunksCreated)

	_, searchOut, err := srv.handleVectorSearch(ctx, nil, VectorSearchInput{Query: "memory safety"})
	require.NoError(t, err)
	require.NotEmpty(t, searchOut.Results)
	assert.NotEmpty(t, searchOut.TraceID)
	assert.NotEmpty(t, searchOut.Mode)
	assert.Contains(t, searchOut.Results[0].SourcePath, "mcp-memory/")
}

func TestHandleMemoryStoreRejectsEmptyText(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleMemoryStore(context.Background(), nil, MemoryStoreInput{})
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestHandleMemoryStoreMergesMetadataIntoTags(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, storeOut, err := srv.handleMemoryStore(ctx, nil, MemoryStoreInput{
		Text:     "Project notes about the launch checklist.",
		Metadata: map[string]string{"project": "launch"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, storeOut.ChunkIDs)

	stored, ok, err := srv.chunks.Get(ctx, storeOut.ChunkIDs[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "launch", stored.Tags.Extra["project"])
}

func TestHandleGraphQueryReturnsSubgraph(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.handleMemoryStore(ctx, nil, MemoryStoreInput{
		Text: "Kubernetes orchestrates Docker containers. Kubernetes and Docker are widely used together.",
	})
	require.NoError(t, err)

	_, out, err := srv.handleGraphQuery(ctx, nil, GraphQueryInput{Entity: "Kubernetes"})
	require.NoError(t, err)
	assert.Equal(t, out.SubgraphSize, len(out.Nodes))
	ids := make([]string, 0, len(out.Nodes))
	for _, n := range out.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Contains(t, ids, "kubernetes")
}

func TestHandleGraphQueryUnknownEntityReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleGraphQuery(context.Background(), nil, GraphQueryInput{Entity: "nonexistent"})
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeChunkNotFound, mcpErr.Code)
}

func TestHandleEntityExtractionFindsCapitalizedPhrases(t *testing.T) {
	srv := newTestServer(t)
	_, out, err := srv.handleEntityExtraction(context.Background(), nil, EntityExtractionInput{
		Text: "NASA and SpaceX both launch rockets.",
	})
	require.NoError(t, err)
	ids := make([]string, 0, len(out.Entities))
	for _, e := range out.Entities {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, "nasa")
	assert.Contains(t, ids, "spacex")
}

func TestHandleHippoRAGRetrieveFindsMultiHopChunk(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.handleMemoryStore(ctx, nil, MemoryStoreInput{
		Text: "Go was designed at Google. Goroutines make Go concurrency lightweight.",
	})
	require.NoError(t, err)

	_, out, err := srv.handleHippoRAGRetrieve(ctx, nil, HippoRAGRetrieveInput{Query: "Go"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Results)
	assert.NotEmpty(t, out.TraceID)
}

func TestHandleDetectModeClassifiesImperativeQuery(t *testing.T) {
	srv := newTestServer(t)
	_, out, err := srv.handleDetectMode(context.Background(), nil, DetectModeInput{Query: "find my notes on rust"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Mode)
}

func TestHandleDetectModeRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleDetectMode(context.Background(), nil, DetectModeInput{})
	require.Error(t, err)
}
