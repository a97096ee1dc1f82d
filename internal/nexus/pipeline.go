// Package nexus implements the five-step query pipeline (spec §4.1):
// recall -> filter -> dedupe -> rank -> compress. It fans a query out to
// the three retrieval tiers in parallel via errgroup, the same way the
// teacher's search.Engine fans BM25 and vector search out concurrently,
// fuses per-tier scores into one ranked result set, and records a
// QueryTrace for every request regardless of outcome.
package nexus

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memcore/memcore/internal/config"
	memerrors "github.com/memcore/memcore/internal/errors"
	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/modedetect"
	"github.com/memcore/memcore/internal/store/chunkstore"
	"github.com/memcore/memcore/internal/store/tracestore"
	"github.com/memcore/memcore/internal/store/vector"
	"github.com/memcore/memcore/internal/tiers"
	"github.com/memcore/memcore/internal/uuidgen"
)

func newInputError(msg string) error {
	return memerrors.New(memerrors.ErrCodeEmptyQuery, msg, nil)
}

func newRoutingError(msg string) error {
	return memerrors.New(memerrors.ErrCodeAllTiersFailed, msg, nil)
}

// Result is one fused, ranked candidate returned to the caller.
type Result struct {
	ChunkID    string
	Text       string
	FusedScore float64
	TierScores map[string]float64
	Source     string
	Tags       model.TaggingEnvelope

	// lastAccess feeds the rank tie-break only; not part of the public
	// result contract.
	lastAccess time.Time
}

// Output is the Nexus pipeline's response envelope.
type Output struct {
	Core     []Result
	Extended []Result
	TraceID  string
	Mode     modedetect.Mode
	Partial  bool
}

// Pipeline orchestrates the three tiers behind a single contract. It holds
// an ordered list of tier references (spec §9 "Tier polymorphism") and
// iterates them uniformly rather than special-casing any one tier.
type Pipeline struct {
	tiers      []tiers.Tier
	chunks     *chunkstore.Store
	vectors    *vector.Store
	traces     *tracestore.Store
	cfg        *config.Config
	recallTopN int
}

// New constructs a Pipeline over the given tiers, chunk store, and trace
// store. vectors may be nil, in which case semantic-duplicate collapsing
// (spec §4.1 step 3) is skipped.
func New(tierList []tiers.Tier, chunks *chunkstore.Store, traces *tracestore.Store, cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.New()
	}
	recallTopN := cfg.Nexus.RecallTopN
	if recallTopN <= 0 {
		recallTopN = 50
	}
	return &Pipeline{tiers: tierList, chunks: chunks, traces: traces, cfg: cfg, recallTopN: recallTopN}
}

// WithVectorStore attaches the embedding source used for semantic-duplicate
// collapsing and returns the receiver for chaining.
func (p *Pipeline) WithVectorStore(v *vector.Store) *Pipeline {
	p.vectors = v
	return p
}

// recallResult pairs a tier's raw candidates with whether it degraded.
type recallResult struct {
	tierName   string
	candidates []tiers.Candidate
	err        error
}

// Process runs the full five-step pipeline for one query against every
// configured tier. mode may be empty, in which case the mode detector
// chooses it. The pipeline always returns a trace id, even for an empty
// result set (spec §4.1 failure model). This is the entry point backing
// the vector_search tool: spec.md §6 describes vector_search as running
// "the full Nexus pipeline", so every tier fans out here, not just the
// vector tier.
func (p *Pipeline) Process(ctx context.Context, query string, mode string, limit int) (*Output, error) {
	return p.process(ctx, query, mode, limit, p.tiers)
}

// ProcessWithTier runs the same five-step pipeline restricted to a single
// tier's recall, fusion trivially degenerating to that tier's own score.
// It backs tools that must be forced through one tier's retrieval path
// (e.g. hipporag_retrieve's multi-hop graph traversal) while still
// filtering, deduping, ranking, compressing, and tracing identically to
// a full Process call.
func (p *Pipeline) ProcessWithTier(ctx context.Context, query string, mode string, limit int, tier tiers.Tier) (*Output, error) {
	return p.process(ctx, query, mode, limit, []tiers.Tier{tier})
}

func (p *Pipeline) process(ctx context.Context, query string, mode string, limit int, tierList []tiers.Tier) (*Output, error) {
	traceID := uuidgen.NewTraceID()
	start := time.Now()

	trace := &model.QueryTrace{
		TraceID:   traceID,
		Timestamp: start,
		Query:     query,
	}

	if strings.TrimSpace(query) == "" {
		trace.Error = strPtr("empty query")
		trace.ErrorType = model.ErrorTypeContextBug
		p.recordTrace(ctx, trace, start)
		return nil, newInputError("query must not be empty")
	}

	detectStart := time.Now()
	var detected modedetect.Result
	if mode == "" {
		detected = modedetect.Detect(query)
	} else {
		detected = modedetect.Result{Mode: modedetect.Mode(mode), Confidence: 1.0}
	}
	trace.DetectedMode = string(detected.Mode)
	trace.DetectionConfidence = detected.Confidence
	trace.DetectionLatency = time.Since(detectStart)
	trace.ModeDetectionLatency = trace.DetectionLatency

	profile := modeProfile(p.cfg, detected.Mode)
	deadline := time.Duration(profile.DeadlineMS) * time.Millisecond
	recallCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	recallStart := time.Now()
	results := p.recall(recallCtx, query, limit, tierList)
	trace.RetrievalLatency = time.Since(recallStart)

	var storesQueried []string
	var degraded []string
	var allCandidates []tiers.Candidate
	failures := 0
	for _, r := range results {
		storesQueried = append(storesQueried, r.tierName)
		if r.err != nil {
			degraded = append(degraded, r.tierName)
			failures++
			continue
		}
		allCandidates = append(allCandidates, r.candidates...)
	}
	sort.Strings(storesQueried)
	trace.StoresQueried = storesQueried
	trace.Degraded = degraded

	if len(tierList) > 0 && failures == len(tierList) {
		trace.Error = strPtr("all tiers failed")
		trace.ErrorType = model.ErrorTypeSystem
		p.recordTrace(ctx, trace, start)
		return nil, newRoutingError("all tiers failed")
	}
	if recallCtx.Err() != nil {
		trace.Partial = true
	}

	filtered := p.filter(allCandidates)
	deduped, err := p.dedupe(ctx, filtered)
	if err != nil {
		trace.Error = strPtr(err.Error())
		trace.ErrorType = model.ErrorTypeSystem
	}
	ranked := p.rank(ctx, deduped)
	core, extended, budgetExceeded := p.compress(ranked, detected.Mode)

	if budgetExceeded {
		trace.Partial = true
		budgetErr := memerrors.BudgetExceededError("token budget unsatisfiable even with an empty extended set", nil)
		trace.Error = strPtr(budgetErr.Error())
		trace.ErrorType = model.ErrorTypeSystem
		slog.Warn("token budget unsatisfiable for core result set alone",
			slog.String("trace_id", traceID), slog.String("mode", string(detected.Mode)))
	}

	out := &Output{Core: core, Extended: extended, TraceID: traceID, Mode: detected.Mode, Partial: trace.Partial}

	var refs []model.RetrievedChunkRef
	for _, r := range append(append([]Result{}, core...), extended...) {
		refs = append(refs, model.RetrievedChunkRef{ChunkID: r.ChunkID, Score: r.FusedScore, Source: r.Source})
	}
	trace.RetrievedChunks = refs
	trace.TotalLatency = time.Since(start)
	p.recordTrace(ctx, trace, start)

	return out, nil
}

// recall queries every tier in tierList concurrently with the shared
// top-N budget (spec §4.1 step 1). A tier failure is recorded, never
// escalated here.
func (p *Pipeline) recall(ctx context.Context, query string, limit int, tierList []tiers.Tier) []recallResult {
	topN := p.recallTopN
	if limit > 0 && limit < topN {
		topN = limit
	}

	out := make([]recallResult, len(tierList))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tierList {
		i, t := i, t
		g.Go(func() error {
			candidates, err := t.Query(gctx, query, topN)
			out[i] = recallResult{tierName: t.Name(), candidates: candidates, err: err}
			return nil // never fail the group; degrade gracefully
		})
	}
	_ = g.Wait()
	return out
}

// confidenceFloor is the default per-tier confidence threshold after
// per-tier normalization (spec §4.1 step 2).
const confidenceFloor = 0.3

// filter drops candidates below the per-tier confidence threshold. Any
// pre-normalization score below 0 is clamped to 0 (treated as an
// implementation bug, per spec).
func (p *Pipeline) filter(candidates []tiers.Candidate) []tiers.Candidate {
	threshold := p.cfg.Nexus.ConfidenceThreshold
	if threshold <= 0 {
		threshold = confidenceFloor
	}
	filtered := make([]tiers.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < 0 {
			c.Score = 0
		}
		if c.Score < threshold {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// fusedCandidate tracks per-tier scores for one chunk id through
// dedupe/rank.
type fusedCandidate struct {
	chunkID    string
	tierScores map[string]float64
}

// dedupe groups candidates by chunk id (keeping the max per-tier score),
// then collapses semantically near-duplicate chunks by embedding cosine
// similarity (spec §4.1 step 3).
func (p *Pipeline) dedupe(ctx context.Context, candidates []tiers.Candidate) ([]fusedCandidate, error) {
	byChunk := make(map[string]*fusedCandidate)
	order := make([]string, 0)
	for _, c := range candidates {
		fc, ok := byChunk[c.ChunkID]
		if !ok {
			fc = &fusedCandidate{chunkID: c.ChunkID, tierScores: make(map[string]float64)}
			byChunk[c.ChunkID] = fc
			order = append(order, c.ChunkID)
		}
		if c.Score > fc.tierScores[c.Source] {
			fc.tierScores[c.Source] = c.Score
		}
	}

	deduped := make([]fusedCandidate, 0, len(order))
	for _, id := range order {
		deduped = append(deduped, *byChunk[id])
	}

	if p.vectors == nil {
		return deduped, nil
	}
	return p.collapseSemanticDuplicates(ctx, deduped)
}

// dedupThreshold is the spec's cosine-similarity floor for collapsing two
// distinct chunks into one.
const dedupThreshold = 0.95

// collapseSemanticDuplicates removes chunks whose embeddings are
// near-identical to a higher-fused-score chunk already kept.
func (p *Pipeline) collapseSemanticDuplicates(_ context.Context, candidates []fusedCandidate) ([]fusedCandidate, error) {
	threshold := p.cfg.Nexus.DedupThreshold
	if threshold <= 0 {
		threshold = dedupThreshold
	}

	fused := func(c fusedCandidate) float64 { return fuseScore(p.cfg, c.tierScores) }

	kept := make([]fusedCandidate, 0, len(candidates))
	for _, cand := range candidates {
		embedding, ok := p.vectors.Vector(cand.chunkID)
		if !ok {
			kept = append(kept, cand)
			continue
		}
		duplicateOfKept := -1
		for ki, k := range kept {
			other, ok := p.vectors.Vector(k.chunkID)
			if !ok {
				continue
			}
			if model.CosineSimilarity(embedding, other) >= threshold {
				duplicateOfKept = ki
				break
			}
		}
		if duplicateOfKept == -1 {
			kept = append(kept, cand)
			continue
		}
		if fused(cand) > fused(kept[duplicateOfKept]) {
			kept[duplicateOfKept] = cand
		}
	}
	return kept, nil
}

// fuseScore computes the weighted fused score: 0.4*vector + 0.4*graph +
// 0.2*bayesian. Missing tier scores contribute 0.
func fuseScore(cfg *config.Config, tierScores map[string]float64) float64 {
	w := cfg.Nexus.Weights
	score := w.Vector*tierScores["vector"] + w.Graph*tierScores["graph"] + w.Bayesian*tierScores["bayesian"]
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// rank computes the fused score per chunk, resolves tags and text from
// the chunk store, and sorts descending with the spec's tie-break:
// (1) recency of last access, (2) lexicographic chunk id.
func (p *Pipeline) rank(ctx context.Context, candidates []fusedCandidate) []Result {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.chunkID
	}

	var chunkMap map[string]*model.Chunk
	if p.chunks != nil {
		chunkMap, _ = p.chunks.GetBatch(ctx, ids)
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		r := Result{
			ChunkID:    c.chunkID,
			FusedScore: fuseScore(p.cfg, c.tierScores),
			TierScores: c.tierScores,
		}
		if chunk, ok := chunkMap[c.chunkID]; ok {
			r.Text = chunk.Text
			r.Source = chunk.SourcePath
			r.Tags = chunk.Tags
			r.lastAccess = chunk.LastAccessedAt
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if !results[i].lastAccess.Equal(results[j].lastAccess) {
			return results[i].lastAccess.After(results[j].lastAccess)
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// compress applies the mode-specific core/extended selection and token
// budget (spec §4.1 step 5). budgetExceeded reports whether the token
// budget is unsatisfiable even after trimming the entire extended set,
// i.e. core alone is over budget; core is never trimmed, so that case is
// surfaced to the caller as a partial result rather than silently
// exceeding the budget or dropping core chunks.
func (p *Pipeline) compress(ranked []Result, mode modedetect.Mode) (core, extended []Result, budgetExceeded bool) {
	profile := modeProfile(p.cfg, mode)

	qualifying := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		if r.FusedScore >= profile.Threshold {
			qualifying = append(qualifying, r)
		}
	}

	coreK := profile.CoreK
	if coreK > len(qualifying) {
		coreK = len(qualifying)
	}
	core = append(core, qualifying[:coreK]...)

	remaining := qualifying[coreK:]
	extK := profile.ExtendedK
	if extK > len(remaining) {
		extK = len(remaining)
	}
	extended = append(extended, remaining[:extK]...)

	budget := profile.TokenBudget
	if budget > 0 {
		total := wordCount(core) + wordCount(extended)
		for total > budget && len(extended) > 0 {
			last := extended[len(extended)-1]
			total -= len(strings.Fields(last.Text))
			extended = extended[:len(extended)-1]
		}
		if total > budget {
			budgetExceeded = true
		}
	}
	return core, extended, budgetExceeded
}

func wordCount(results []Result) int {
	n := 0
	for _, r := range results {
		n += len(strings.Fields(r.Text))
	}
	return n
}

func (p *Pipeline) recordTrace(_ context.Context, trace *model.QueryTrace, start time.Time) {
	if trace.TotalLatency == 0 {
		trace.TotalLatency = time.Since(start)
	}
	if p.traces == nil {
		return
	}
	// Traces are written asynchronously (spec §4.8): a failure to persist
	// never fails the request that produced it.
	go func() {
		_ = p.traces.Put(context.Background(), trace)
	}()
}

func strPtr(s string) *string { return &s }

func modeProfile(cfg *config.Config, mode modedetect.Mode) config.ModeProfile {
	switch mode {
	case modedetect.ModePlanning:
		return cfg.Modes.Planning
	case modedetect.ModeBrainstorming:
		return cfg.Modes.Brainstorming
	default:
		return cfg.Modes.Execution
	}
}
