// Package modedetect classifies query text into one of three retrieval
// modes (execution, planning, brainstorming) so the nexus pipeline can
// pick mode-specific compression and deadline parameters without the
// caller having to specify mode explicitly.
package modedetect

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Mode selects the nexus pipeline's retrieval parameters.
type Mode string

const (
	ModeExecution     Mode = "execution"
	ModePlanning      Mode = "planning"
	ModeBrainstorming Mode = "brainstorming"
)

// ConfidenceThreshold is the minimum winning-family confidence required
// to trust the classification; below it the detector defaults to
// execution, the narrowest (and safest) retrieval profile.
const ConfidenceThreshold = 0.7

// LatencyBudget is the spec's hard ceiling on detection time.
const LatencyBudget = 10 * time.Millisecond

// pattern is one regex contributing to a mode family's confidence score.
type pattern struct {
	re     *regexp.Regexp
	weight float64
}

// Result carries the detected mode plus the trace-recorded rationale.
type Result struct {
	Mode             Mode
	Confidence       float64
	WinningPatterns  []string
	Latency          time.Duration
	DefaultedToExec  bool // true when no family cleared ConfidenceThreshold
}

var executionPatterns = compilePatterns([]patternSpec{
	{`\bwhat is\b`, 0.3},
	{`\bshow me\b`, 0.3},
	{`\bfind\b`, 0.2},
	{`\blook up\b`, 0.25},
	{`\bget\b`, 0.15},
	{`\brun\b`, 0.25},
	{`\bexecute\b`, 0.3},
	{`\bfix\b`, 0.25},
	{`\bdebug\b`, 0.25},
	{`\bwhere is\b`, 0.3},
	{`\bhow do i\b`, 0.2},
})

var planningPatterns = compilePatterns([]patternSpec{
	{`\bvs\.?\b`, 0.3},
	{`\bversus\b`, 0.3},
	{`\bcompare\b`, 0.3},
	{`\bshould i\b`, 0.3},
	{`\bplan\b`, 0.3},
	{`\bsteps? to\b`, 0.3},
	{`\bwhich (is|one)\b`, 0.25},
	{`\btradeoffs?\b`, 0.3},
	{`\bmigrate\b`, 0.25},
})

var brainstormingPatterns = compilePatterns([]patternSpec{
	{`\bwhat if\b`, 0.35},
	{`\bbrainstorm\b`, 0.4},
	{`\bcould we\b`, 0.3},
	{`\bimagine\b`, 0.3},
	{`\bideas? for\b`, 0.3},
	{`\bhow might\b`, 0.3},
	{`\bwhat are some ways\b`, 0.3},
	{`\bexplore\b`, 0.2},
	{`\bpossibilit(y|ies)\b`, 0.3},
})

type patternSpec struct {
	expr   string
	weight float64
}

func compilePatterns(specs []patternSpec) []pattern {
	patterns := make([]pattern, len(specs))
	for i, s := range specs {
		patterns[i] = pattern{re: regexp.MustCompile(s.expr), weight: s.weight}
	}
	return patterns
}

// family bundles a mode with the pattern set that votes for it.
type family struct {
	mode     Mode
	patterns []pattern
}

var families = []family{
	{ModeExecution, executionPatterns},
	{ModePlanning, planningPatterns},
	{ModeBrainstorming, brainstormingPatterns},
}

// Detect classifies query text into a Mode. Confidence is a monotone
// weighted sum over matching pattern weights within the winning family,
// capped at 1.0; the open question of the exact confidence-to-weight
// mapping is resolved this way (see DESIGN.md).
func Detect(query string) Result {
	start := time.Now()
	lowered := strings.ToLower(query)

	var bestFamily family
	var bestScore float64
	var bestHits []string

	for _, f := range families {
		score, hits := scoreFamily(lowered, f.patterns)
		if score > bestScore {
			bestScore = score
			bestFamily = f
			bestHits = hits
		}
	}

	result := Result{
		Confidence:      bestScore,
		WinningPatterns: bestHits,
		Latency:         time.Since(start),
	}

	if bestScore >= ConfidenceThreshold {
		result.Mode = bestFamily.mode
	} else {
		result.Mode = ModeExecution
		result.DefaultedToExec = true
	}
	return result
}

// scoreFamily sums the weights of every pattern in patterns that matches
// query, capping the total at 1.0, and returns the matched pattern
// source expressions for trace recording.
func scoreFamily(query string, patterns []pattern) (float64, []string) {
	var score float64
	var hits []string
	for _, p := range patterns {
		if p.re.MatchString(query) {
			score += p.weight
			hits = append(hits, p.re.String())
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	sort.Strings(hits)
	return score, hits
}
