package ingest

import (
	"regexp"
	"sort"

	"github.com/memcore/memcore/internal/model"
)

// capitalizedPhrase mirrors the tiers package's query-time entity
// candidate heuristic: runs of capitalized words stand in for a NER
// model (see DESIGN.md — no NER library appears anywhere in the
// retrieval pack). Indexing time reuses the same heuristic so a chunk's
// mentions edges line up with the ids the graph/Bayesian tiers later
// look up by.
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*\b`)

// extractedEntity is one entity mention found in a chunk's text.
type extractedEntity struct {
	ID          string
	DisplayName string
}

// ExtractedEntity is one entity mention found in a piece of text,
// exported for callers outside this package (the MCP entity_extraction
// tool) that want the same heuristic used at indexing time rather than
// the query-time candidate list in the tiers package.
type ExtractedEntity struct {
	ID          string
	DisplayName string
}

// ExtractEntities exposes extractEntities to callers outside the
// package.
func ExtractEntities(text string) []ExtractedEntity {
	found := extractEntities(text)
	out := make([]ExtractedEntity, len(found))
	for i, e := range found {
		out[i] = ExtractedEntity{ID: e.ID, DisplayName: e.DisplayName}
	}
	return out
}

// extractEntities finds capitalized-phrase entity candidates in text,
// deduplicated and sorted for deterministic edge ordering.
func extractEntities(text string) []extractedEntity {
	seen := make(map[string]string)
	for _, m := range capitalizedPhrase.FindAllString(text, -1) {
		id := model.NormalizeEntityID(m)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = m
		}
	}

	entities := make([]extractedEntity, 0, len(seen))
	for id, name := range seen {
		entities = append(entities, extractedEntity{ID: id, DisplayName: name})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}
