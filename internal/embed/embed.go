// Package embed turns chunk and query text into 384-dimensional unit-norm
// vectors (model.EmbeddingDimensions). The default embedder is a
// deterministic hash-based scheme so the rest of the pipeline runs without
// a real model dependency; it implements the same Embedder interface a
// future learned backend would.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/memcore/memcore/internal/model"
)

// DefaultBatchSize is the default batch size for embedding requests.
const DefaultBatchSize = 32

// MaxInputRunes truncates oversized input before embedding, logging a
// warning rather than failing the request.
const MaxInputRunes = 8192

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}

// CachedEmbedder wraps an Embedder with an LRU cache keyed on exact text,
// avoiding recomputation for repeated queries and re-ingested chunks.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// DefaultCacheSize is the number of distinct texts kept in the LRU cache.
const DefaultCacheSize = 4096

// NewCachedEmbedder wraps inner with an LRU cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding for text, computing and caching it on
// a miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// EmbedBatch embeds each text, consulting and populating the cache per item.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var misses []string
	var missIdx []int

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			results[i] = v
		} else {
			misses = append(misses, t)
			missIdx = append(missIdx, i)
		}
	}

	if len(misses) > 0 {
		embedded, err := c.inner.EmbedBatch(ctx, misses)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIdx {
			results[idx] = embedded[j]
			c.cache.Add(misses[j], embedded[j])
		}
	}

	return results, nil
}

func (c *CachedEmbedder) Dimensions() int   { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *CachedEmbedder) Close() error      { return c.inner.Close() }

// StaticEmbedder generates deterministic hash-based embeddings at
// model.EmbeddingDimensions width. Same algorithm family as the teacher's
// static hash embedder, narrowed to one fixed dimension.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a static hash-based embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates an embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(truncate(text))
	if trimmed == "" {
		return make([]float32, model.EmbeddingDimensions), nil
	}
	return normalizeVector(generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		trimmed := strings.TrimSpace(truncate(text))
		if trimmed == "" {
			results[i] = make([]float32, model.EmbeddingDimensions)
			continue
		}
		results[i] = normalizeVector(generateVector(trimmed))
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int   { return model.EmbeddingDimensions }
func (e *StaticEmbedder) ModelName() string { return "static-384" }

// Close marks the embedder closed. Subsequent calls fail.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxInputRunes {
		return text
	}
	slog.Warn("embedding input truncated", slog.Int("runes", len(runes)), slog.Int("max", MaxInputRunes))
	return string(runes[:MaxInputRunes])
}
