package tiers

import (
	"context"
	"fmt"

	"github.com/memcore/memcore/internal/embed"
	"github.com/memcore/memcore/internal/store/vector"
)

// VectorTier wraps the HNSW-backed vector store as a Tier, embedding the
// query text before searching.
type VectorTier struct {
	store    *vector.Store
	embedder embed.Embedder
}

// NewVectorTier constructs the vector retrieval tier.
func NewVectorTier(store *vector.Store, embedder embed.Embedder) *VectorTier {
	return &VectorTier{store: store, embedder: embedder}
}

func (t *VectorTier) Name() string { return "vector" }

// Query embeds the query text and searches the HNSW index. Score
// normalization (1 - distance/2, clamped at 0) happens inside vector.Store.
func (t *VectorTier) Query(ctx context.Context, query string, topK int) ([]Candidate, error) {
	embedding, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := t.store.Search(ctx, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, Candidate{
			ChunkID: r.ID,
			Score:   float64(r.Score),
			Source:  t.Name(),
		})
	}
	return candidates, nil
}

func (t *VectorTier) Health() HealthStatus {
	return HealthStatus{Healthy: true}
}
