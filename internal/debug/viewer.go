package debug

import (
	"context"
	"fmt"

	"github.com/memcore/memcore/internal/model"
	"github.com/memcore/memcore/internal/store/tracestore"
)

// TraceSummary is one line of the trace viewer's output: just enough to
// pick a trace id to replay or inspect further.
type TraceSummary struct {
	TraceID  string
	Query    string
	Mode     string
	Error    string
	Degraded []string
}

// RecentTraces returns a summary of the last n traces, newest first, for
// the `memcore debug traces` CLI command. Mirrors
// internal/logging.TailLines's "last N" shape, over the trace store
// instead of a log file.
func RecentTraces(ctx context.Context, traces *tracestore.Store, n int) ([]TraceSummary, error) {
	records, err := traces.ListRecent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("list recent traces: %w", err)
	}

	summaries := make([]TraceSummary, len(records))
	for i, t := range records {
		summaries[i] = summarize(t)
	}
	return summaries, nil
}

func summarize(t *model.QueryTrace) TraceSummary {
	s := TraceSummary{TraceID: t.TraceID, Query: t.Query, Mode: t.DetectedMode, Degraded: t.Degraded}
	if t.Error != nil {
		s.Error = *t.Error
	}
	return s
}
