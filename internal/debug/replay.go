package debug

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/nexus"
	"github.com/memcore/memcore/internal/store/tracestore"
)

// ErrTraceNotFound is returned when Replay is asked for an unknown trace
// id.
var ErrTraceNotFound = errors.New("trace not found")

// Replayer re-executes a past query against the live pipeline and diffs
// the result against what was originally recorded.
type Replayer struct {
	pipeline *nexus.Pipeline
	traces   *tracestore.Store
}

// NewReplayer constructs a Replayer over the given pipeline and trace
// store. The pipeline must be the one whose tiers/stores Replay should
// re-query; the trace store only needs to be readable for the original
// trace lookup.
func NewReplayer(pipeline *nexus.Pipeline, traces *tracestore.Store) *Replayer {
	return &Replayer{pipeline: pipeline, traces: traces}
}

// ChunkDiff reports one chunk's presence/score across a replay.
type ChunkDiff struct {
	ChunkID     string
	OldScore    float64
	NewScore    float64
	OnlyInOld   bool
	OnlyInNew   bool
	ScoreShift  float64
}

// Diff summarizes how a replayed run differs from the original trace.
// Determinism requirement (spec §4.8): with an unchanged index and
// unchanged seeds, Deterministic must be true.
type Diff struct {
	OriginalTraceID string
	NewTraceID      string
	ModeChanged     bool
	PartialChanged  bool
	ChunkDiffs      []ChunkDiff
	Deterministic   bool
}

// Replay reconstructs and re-executes the query recorded under traceID,
// forcing the same detected mode so only index/state drift (not a
// changed mode classification) can explain any difference, and returns
// the freshly produced trace alongside a diff against the original.
func (r *Replayer) Replay(ctx context.Context, traceID string) (*model.QueryTrace, *Diff, error) {
	original, ok, err := r.traces.Get(ctx, traceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load original trace %s: %w", traceID, err)
	}
	if !ok {
		return nil, nil, ErrTraceNotFound
	}

	limit := len(original.RetrievedChunks)
	if limit == 0 {
		limit = 10
	}

	out, err := r.pipeline.Process(ctx, original.Query, original.DetectedMode, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("replay query: %w", err)
	}

	newTrace := &model.QueryTrace{
		TraceID:         out.TraceID,
		Timestamp:       time.Now(),
		Query:           original.Query,
		DetectedMode:    string(out.Mode),
		RetrievedChunks: flattenResults(out.Core, out.Extended),
		Partial:         out.Partial,
	}

	diff := diffTraces(original, newTrace)
	return newTrace, diff, nil
}

func flattenResults(core, extended []nexus.Result) []model.RetrievedChunkRef {
	refs := make([]model.RetrievedChunkRef, 0, len(core)+len(extended))
	for _, r := range append(append([]nexus.Result{}, core...), extended...) {
		refs = append(refs, model.RetrievedChunkRef{ChunkID: r.ChunkID, Score: r.FusedScore, Source: r.Source})
	}
	return refs
}

func diffTraces(original, replayed *model.QueryTrace) *Diff {
	oldByID := make(map[string]model.RetrievedChunkRef, len(original.RetrievedChunks))
	for _, c := range original.RetrievedChunks {
		oldByID[c.ChunkID] = c
	}
	newByID := make(map[string]model.RetrievedChunkRef, len(replayed.RetrievedChunks))
	for _, c := range replayed.RetrievedChunks {
		newByID[c.ChunkID] = c
	}

	ids := make(map[string]bool)
	for id := range oldByID {
		ids[id] = true
	}
	for id := range newByID {
		ids[id] = true
	}
	sortedIDs := make([]string, 0, len(ids))
	for id := range ids {
		sortedIDs = append(sortedIDs, id)
	}
	sort.Strings(sortedIDs)

	diffs := make([]ChunkDiff, 0, len(sortedIDs))
	deterministic := original.DetectedMode == replayed.DetectedMode && original.Partial == replayed.Partial
	for _, id := range sortedIDs {
		oldRef, inOld := oldByID[id]
		newRef, inNew := newByID[id]
		cd := ChunkDiff{ChunkID: id, OldScore: oldRef.Score, NewScore: newRef.Score, OnlyInOld: inOld && !inNew, OnlyInNew: inNew && !inOld}
		if inOld && inNew {
			cd.ScoreShift = newRef.Score - oldRef.Score
		}
		if cd.OnlyInOld || cd.OnlyInNew || cd.ScoreShift != 0 {
			deterministic = false
			diffs = append(diffs, cd)
		}
	}

	return &Diff{
		OriginalTraceID: original.TraceID,
		NewTraceID:      replayed.TraceID,
		ModeChanged:     original.DetectedMode != replayed.DetectedMode,
		PartialChanged:  original.Partial != replayed.Partial,
		ChunkDiffs:      diffs,
		Deterministic:   deterministic,
	}
}
