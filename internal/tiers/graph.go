package tiers

import (
	"context"
	"math"
	"sort"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/graphstore"
)

// PPRConfig configures Personalized PageRank, matching the spec's §4.3
// defaults and its two-stage retry-then-fallback convergence strategy.
type PPRConfig struct {
	Damping           float64
	Tolerance         float64
	MaxIterations     int
	RetryTolerance    float64
	RetryMaxIterations int
	MaxHops           int
}

// DefaultPPRConfig returns the spec's documented PPR parameters.
func DefaultPPRConfig() PPRConfig {
	return PPRConfig{
		Damping:            0.85,
		Tolerance:          1e-6,
		MaxIterations:      100,
		RetryTolerance:     1e-4,
		RetryMaxIterations: 200,
		MaxHops:            3,
	}
}

// GraphTier implements HippoRAG-style graph retrieval: entity extraction,
// Personalized PageRank over the entity graph, and aggregation of PPR mass
// onto chunks via the `mentions` edge.
type GraphTier struct {
	graph  *graphstore.Store
	config PPRConfig
}

// NewGraphTier constructs the graph retrieval tier.
func NewGraphTier(graph *graphstore.Store, cfg PPRConfig) *GraphTier {
	return &GraphTier{graph: graph, config: cfg}
}

func (t *GraphTier) Name() string { return "graph" }

func (t *GraphTier) Health() HealthStatus {
	return HealthStatus{Healthy: true}
}

// Query extracts seed entities from query text, runs PPR, and aggregates
// the resulting entity scores onto the chunks that mention them.
func (t *GraphTier) Query(ctx context.Context, query string, topK int) ([]Candidate, error) {
	seeds := t.seedEntities(query)
	if len(seeds) == 0 {
		// Spec invariant: no seed match means an empty result, never a
		// fallback to another tier from inside this one.
		return nil, nil
	}

	scores := t.personalizedPageRank(seeds)
	return t.aggregateToChunks(scores, topK), nil
}

// QueryMultiHop expands the seed set by BFS over related_to/similar_to
// edges up to config.MaxHops before running PPR.
func (t *GraphTier) QueryMultiHop(ctx context.Context, query string, topK int) ([]Candidate, error) {
	seeds := t.seedEntities(query)
	if len(seeds) == 0 {
		return nil, nil
	}

	expanded := t.expandSeeds(seeds, t.config.MaxHops)
	scores := t.personalizedPageRank(expanded)
	return t.aggregateToChunks(scores, topK), nil
}

// seedEntities extracts candidate entity ids from query text and keeps
// only those that resolve to a known graph node.
func (t *GraphTier) seedEntities(query string) []string {
	var seeds []string
	for _, c := range candidateEntityIDs(query) {
		if _, ok := t.graph.GetEntity(c); ok {
			seeds = append(seeds, c)
		}
	}
	sort.Strings(seeds)
	return seeds
}

// expandSeeds performs BFS from seeds along related_to/similar_to edges up
// to maxHops, returning the union of seeds and discovered neighbors.
func (t *GraphTier) expandSeeds(seeds []string, maxHops int) []string {
	visited := make(map[string]bool)
	frontier := make([]string, len(seeds))
	copy(frontier, seeds)
	for _, s := range seeds {
		visited[s] = true
	}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, kind := range []model.EdgeKind{model.EdgeRelatedTo, model.EdgeSimilarTo} {
				for _, n := range t.graph.Neighbors(id, kind) {
					if !visited[n] {
						visited[n] = true
						next = append(next, n)
					}
				}
			}
		}
		frontier = next
	}

	result := make([]string, 0, len(visited))
	for id := range visited {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// personalizedPageRank runs PPR biased toward seeds, retrying with looser
// tolerance on non-convergence and falling back to seed-biased degree
// centrality if that also fails to converge.
func (t *GraphTier) personalizedPageRank(seeds []string) map[string]float64 {
	entities := t.graph.AllEntities()
	if len(entities) == 0 {
		return map[string]float64{}
	}

	ids := make([]string, len(entities))
	index := make(map[string]int, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
		index[e.ID] = i
	}

	personalization := make([]float64, len(ids))
	if len(seeds) > 0 {
		weight := 1.0 / float64(len(seeds))
		for _, s := range seeds {
			if i, ok := index[s]; ok {
				personalization[i] = weight
			}
		}
	}

	scores, converged := t.runPowerIteration(ids, index, personalization, t.config.Tolerance, t.config.MaxIterations)
	if !converged {
		scores, converged = t.runPowerIteration(ids, index, personalization, t.config.RetryTolerance, t.config.RetryMaxIterations)
	}
	if !converged {
		scores = t.degreeCentralityFallback(ids, index, seeds)
	}

	result := make(map[string]float64, len(ids))
	for i, id := range ids {
		result[id] = scores[i]
	}
	return result
}

func (t *GraphTier) runPowerIteration(ids []string, index map[string]int, personalization []float64, tolerance float64, maxIterations int) ([]float64, bool) {
	n := len(ids)
	scores := make([]float64, n)
	copy(scores, personalization)
	if sum := sumOf(scores); sum == 0 {
		uniform := 1.0 / float64(n)
		for i := range scores {
			scores[i] = uniform
		}
	}

	neighborsOut := make([][]int, n)
	for i, id := range ids {
		var targets []int
		for _, kind := range []model.EdgeKind{model.EdgeRelatedTo, model.EdgeSimilarTo} {
			for _, e := range t.graph.Edges(id, kind) {
				if j, ok := index[e.To]; ok {
					targets = append(targets, j)
				}
			}
		}
		neighborsOut[i] = targets
	}

	for iter := 0; iter < maxIterations; iter++ {
		next := make([]float64, n)
		for i := range next {
			next[i] = (1 - t.config.Damping) * personalization[i]
		}

		for i := 0; i < n; i++ {
			targets := neighborsOut[i]
			if len(targets) == 0 {
				continue
			}
			share := t.config.Damping * scores[i] / float64(len(targets))
			for _, j := range targets {
				next[j] += share
			}
		}

		normalize(next)

		diff := 0.0
		for i := range next {
			diff += math.Abs(next[i] - scores[i])
		}
		scores = next
		if diff < tolerance {
			return scores, true
		}
	}
	return scores, false
}

// degreeCentralityFallback scores entities by out-degree, biased toward
// seeds, when PPR fails to converge twice.
func (t *GraphTier) degreeCentralityFallback(ids []string, index map[string]int, seeds []string) []float64 {
	scores := make([]float64, len(ids))
	seedSet := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
	}

	for i, id := range ids {
		degree := 0.0
		for _, kind := range []model.EdgeKind{model.EdgeRelatedTo, model.EdgeSimilarTo, model.EdgeMentions} {
			degree += float64(len(t.graph.Edges(id, kind)))
		}
		if seedSet[id] {
			degree *= 2
		}
		scores[i] = degree
	}
	normalize(scores)
	return scores
}

// aggregateToChunks sums entity scores onto every chunk that mentions that
// entity, returning the top-k chunks by aggregated score.
func (t *GraphTier) aggregateToChunks(entityScores map[string]float64, topK int) []Candidate {
	return aggregateEntityScoresToChunks(t.graph, entityScores, topK, t.Name())
}

func sumOf(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum
}

// normalize rescales v so its elements sum to 1, preserving PPR's
// probability-mass invariant.
func normalize(v []float64) {
	sum := sumOf(v)
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}
