package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/model"
)

func TestStaticEmbedderProducesUnitNormVector(t *testing.T) {
	e := NewStaticEmbedder()
	v, err := e.Embed(context.Background(), "retry logic uses exponential backoff")
	require.NoError(t, err)
	require.Len(t, v, model.EmbeddingDimensions)

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-4)
}

func TestStaticEmbedderIsDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	a, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedderEmptyTextReturnsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, x := range v {
		assert.Equal(t, float32(0), x)
	}
}

func TestStaticEmbedderClosedFailsEmbed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestCachedEmbedderReturnsSameVectorWithoutRecompute(t *testing.T) {
	inner := NewStaticEmbedder()
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	a, err := cached.Embed(context.Background(), "cached text")
	require.NoError(t, err)
	b, err := cached.Embed(context.Background(), "cached text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCachedEmbedBatchMixesHitsAndMisses(t *testing.T) {
	inner := NewStaticEmbedder()
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "alpha")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results[0], model.EmbeddingDimensions)
	assert.Len(t, results[1], model.EmbeddingDimensions)
}

func TestTruncateLimitsOversizedInput(t *testing.T) {
	huge := make([]rune, MaxInputRunes+100)
	for i := range huge {
		huge[i] = 'a'
	}
	out := truncate(string(huge))
	assert.Len(t, []rune(out), MaxInputRunes)
}
