package tiers

import (
	"regexp"
	"sort"
	"strings"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/graphstore"
)

// capitalizedPhrase matches runs of capitalized words, the fallback entity
// extractor used when no NER model is configured (see DESIGN.md — no NER
// library appears anywhere in the retrieval pack).
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*\b`)

// candidateEntityIDs extracts normalized entity id candidates from free
// text: capitalized multi-word phrases plus every individual lowercase
// word, since entity ids are normalized to lowercase and vault entities
// (e.g. "python") are often never capitalized in casual query text.
func candidateEntityIDs(query string) []string {
	var candidates []string
	for _, m := range capitalizedPhrase.FindAllString(query, -1) {
		candidates = append(candidates, model.NormalizeEntityID(m))
	}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		candidates = append(candidates, model.NormalizeEntityID(w))
	}

	seen := make(map[string]bool)
	var deduped []string
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		deduped = append(deduped, c)
	}
	sort.Strings(deduped)
	return deduped
}

// aggregateEntityScoresToChunks sums entity scores onto every chunk that
// mentions that entity, capping each chunk's sum at 1 so Candidate scores
// stay in [0, 1], and returns the top-k chunks by aggregated score.
// Shared by the graph and Bayesian tiers, which both produce a
// per-entity score distribution that must be projected onto chunk ids.
func aggregateEntityScoresToChunks(graph *graphstore.Store, entityScores map[string]float64, topK int, source string) []Candidate {
	chunkScores := make(map[string]float64)
	for entityID, score := range entityScores {
		if score <= 0 {
			continue
		}
		for _, chunkID := range graph.MentionedBy(entityID) {
			chunkScores[chunkID] += score
		}
	}

	candidates := make([]Candidate, 0, len(chunkScores))
	for chunkID, score := range chunkScores {
		if score > 1 {
			score = 1
		}
		candidates = append(candidates, Candidate{ChunkID: chunkID, Score: score, Source: source})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}
