package debug

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/config"
	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/nexus"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/tracestore"
	"github.com/memcore/memcore/internal/tiers"
)

type fixedTier struct {
	candidates []tiers.Candidate
}

func (f *fixedTier) Name() string { return "vector" }
func (f *fixedTier) Query(_ context.Context, _ string, _ int) ([]tiers.Candidate, error) {
	return f.candidates, nil
}
func (f *fixedTier) Health() tiers.HealthStatus { return tiers.HealthStatus{Healthy: true} }

func newTestReplayer(t *testing.T, candidates []tiers.Candidate) (*Replayer, *tracestore.Store) {
	t.Helper()
	cs, err := chunkstore.Open("")
	require.NoError(t, err)
	ts, err := tracestore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ts.Close()
	})

	tier := &fixedTier{candidates: candidates}
	// Weighting the vector tier 1 and the others 0 makes the fused score
	// equal the tier score, and a zero execution floor keeps every
	// candidate, so recorded and replayed scores compare one to one.
	cfg := config.New()
	cfg.Nexus.Weights.Vector = 1
	cfg.Nexus.Weights.Graph = 0
	cfg.Nexus.Weights.Bayesian = 0
	cfg.Modes.Execution.Threshold = 0
	pipeline := nexus.New([]tiers.Tier{tier}, cs, ts, cfg)
	return NewReplayer(pipeline, ts), ts
}

func TestReplayDeterministicWhenIndexUnchanged(t *testing.T) {
	candidates := []tiers.Candidate{{ChunkID: "c1", Score: 0.9, Source: "vector"}}
	replayer, ts := newTestReplayer(t, candidates)
	ctx := context.Background()

	original := &model.QueryTrace{
		TraceID:         "trace-1",
		Query:           "what is rust",
		DetectedMode:    "execution",
		StoresQueried:   []string{"vector"},
		RetrievedChunks: []model.RetrievedChunkRef{{ChunkID: "c1", Score: 0.9, Source: "vector"}},
	}
	require.NoError(t, ts.Put(ctx, original))

	_, diff, err := replayer.Replay(ctx, "trace-1")
	require.NoError(t, err)
	assert.True(t, diff.Deterministic)
	assert.Empty(t, diff.ChunkDiffs)
}

func TestReplayReportsDriftWhenIndexChanged(t *testing.T) {
	candidates := []tiers.Candidate{{ChunkID: "c2", Score: 0.8, Source: "vector"}}
	replayer, ts := newTestReplayer(t, candidates)
	ctx := context.Background()

	original := &model.QueryTrace{
		TraceID:         "trace-2",
		Query:           "what is rust",
		DetectedMode:    "execution",
		RetrievedChunks: []model.RetrievedChunkRef{{ChunkID: "c1", Score: 0.9, Source: "vector"}},
	}
	require.NoError(t, ts.Put(ctx, original))

	_, diff, err := replayer.Replay(ctx, "trace-2")
	require.NoError(t, err)
	assert.False(t, diff.Deterministic)
	require.Len(t, diff.ChunkDiffs, 2)
}

func TestReplayUnknownTraceReturnsErrTraceNotFound(t *testing.T) {
	replayer, _ := newTestReplayer(t, nil)
	_, _, err := replayer.Replay(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrTraceNotFound)
}
