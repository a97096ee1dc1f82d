package embed

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/memcore/memcore/internal/model"
)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// generateVector builds a hash-based vector from text: tokens (weighted
// 0.7, camelCase/snake_case aware, stop words dropped) plus character
// trigrams (weighted 0.3) for resilience to unseen tokens.
func generateVector(text string) []float32 {
	vector := make([]float32, model.EmbeddingDimensions)

	tokens := filterStopWords(tokenize(text))
	for _, token := range tokens {
		vector[hashToIndex(token, model.EmbeddingDimensions)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, model.EmbeddingDimensions)] += ngramWeight
	}

	return vector
}

func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"of": true, "to": true, "and": true, "in": true, "for": true,
	"on": true, "with": true, "at": true, "by": true, "this": true,
	"that": true, "it": true, "as": true, "be": true, "was": true,
}

func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !stopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// normalizeVector normalizes v to unit length, matching the unit-norm
// embedding contract the vector tier depends on.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
