package tracestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
)

func sampleTrace(id string, ts time.Time, errType model.ErrorType) *model.QueryTrace {
	return &model.QueryTrace{
		TraceID:          id,
		Timestamp:        ts,
		Query:            "how does the retry logic work",
		RoutingRationale: "planning mode, broad recall",
		OutputText:       "the retry logic uses exponential backoff",
		ErrorType:        errType,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	trace := sampleTrace("t1", time.Now(), model.ErrorTypeNone)
	require.NoError(t, s.Put(ctx, trace))

	got, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, trace.Query, got.Query)
}

func TestSearchTextFindsMatchingTrace(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sampleTrace("t1", time.Now(), model.ErrorTypeNone)))
	require.NoError(t, s.Put(ctx, &model.QueryTrace{TraceID: "t2", Timestamp: time.Now(), Query: "unrelated"}))

	ids, err := s.SearchText("backoff", 10)
	require.NoError(t, err)
	assert.Contains(t, ids, "t1")
	assert.NotContains(t, ids, "t2")
}

func TestStatsSinceCountsErrorTypes(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Put(ctx, sampleTrace("a", now, model.ErrorTypeContextBug)))
	require.NoError(t, s.Put(ctx, sampleTrace("b", now, model.ErrorTypeModelBug)))
	require.NoError(t, s.Put(ctx, sampleTrace("c", now, model.ErrorTypeNone)))

	stats, err := s.StatsSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ContextBugs)
	assert.Equal(t, 1, stats.ModelBugs)
}

func TestPruneRemovesOldTraces(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	old := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, s.Put(ctx, sampleTrace("old", old, model.ErrorTypeNone)))
	require.NoError(t, s.Put(ctx, sampleTrace("recent", time.Now(), model.ErrorTypeNone)))

	n, err := s.Prune(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
}
