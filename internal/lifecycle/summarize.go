package lifecycle

import (
	"regexp"
	"sort"
	"strings"

	"github.com/memcore/memcore/internal/model"
)

// sentenceSplit is a conservative sentence boundary: punctuation
// followed by whitespace and a capital letter or digit. It errs toward
// under-splitting, which is safer for a summary (an un-split sentence
// just keeps more context) than over-splitting mid-thought.
var sentenceSplit = regexp.MustCompile(`(?:[.!?])\s+(?:[A-Z0-9])`)

// capitalizedWord approximates entity mentions the same way the graph
// tier's fallback entity extractor does, without pulling in the tiers
// package: a run of capitalized words is a candidate entity mention.
var capitalizedWord = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*\b`)

// ExtractiveSummarizer keeps the top-N sentences by entity density:
// sentences mentioning more distinct candidate entities, relative to
// their length, are considered more informative and are kept in their
// original order.
type ExtractiveSummarizer struct{}

// Summarize returns the keepSentences highest entity-density sentences
// from text, in original order.
func (ExtractiveSummarizer) Summarize(text string, keepSentences int) string {
	sentences := splitSentences(text)
	if len(sentences) <= keepSentences {
		return strings.Join(sentences, " ")
	}

	type scored struct {
		index int
		text  string
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		ranked[i] = scored{index: i, text: s, score: entityDensity(s)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if keepSentences < len(ranked) {
		ranked = ranked[:keepSentences]
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].index < ranked[j].index })

	kept := make([]string, len(ranked))
	for i, r := range ranked {
		kept[i] = r.text
	}
	return strings.Join(kept, " ")
}

func splitSentences(text string) []string {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return nil
	}
	var parts []string
	last := 0
	for _, loc := range sentenceSplit.FindAllStringIndex(normalized, -1) {
		parts = append(parts, normalized[last:loc[0]+1])
		last = loc[1] - 1
	}
	parts = append(parts, normalized[last:])
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// entityDensity counts distinct normalized entity candidates per word,
// rewarding short sentences packed with named references over long,
// entity-sparse prose.
func entityDensity(sentence string) float64 {
	words := strings.Fields(sentence)
	if len(words) == 0 {
		return 0
	}

	seen := make(map[string]bool)
	for _, m := range capitalizedWord.FindAllString(sentence, -1) {
		seen[model.NormalizeEntityID(m)] = true
	}
	return float64(len(seen)) / float64(len(words))
}
