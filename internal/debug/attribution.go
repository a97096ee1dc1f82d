// Package debug implements the query trace replay and error-attribution
// subsystem (spec §4.8): replaying a past request against the current
// index and diffing the result, and classifying a failed trace into
// context_bug, model_bug, or system_error.
package debug

import (
	"regexp"
	"strings"

	"github.com/memcore/memcore/internal/model"
)

// kvFamilyPattern matches simple fact/preference-lookup phrasing: "what
// is my X", "my favorite Y", "remember that...". These queries carry a
// single well-defined answer and are best served by a direct,
// high-confidence vector hit rather than graph or Bayesian inference;
// a KV-family query that the vector tier never contributed to is a
// routing mistake, not a retrieval-quality problem.
var kvFamilyPattern = regexp.MustCompile(`(?i)\b(what'?s?\s+my|what\s+is\s+my|my\s+favorite|my\s+preference|remember\s+that|my\s+name\s+is)\b`)

// probabilityMarkerPattern matches vocabulary that signals the query is
// actually asking about the Bayesian tier's own domain (probability,
// likelihood, priors) rather than a direct command. A query carrying
// these markers but detected as execution mode picked the wrong
// retrieval profile.
var probabilityMarkerPattern = regexp.MustCompile(`(?i)\b(probability|likelihood|posterior|prior|bayesian|distribution|inference|evidence)\b`)

// Attribution is the result of classifying one failed trace.
type Attribution struct {
	ErrorType model.ErrorType
	Reason    string
}

// ClassifyError attributes a failed trace's root cause. A trace with no
// Error is not classified (ErrorType is empty).
func ClassifyError(trace *model.QueryTrace) Attribution {
	if trace == nil || trace.Error == nil {
		return Attribution{}
	}

	// A trace the pipeline already marked system_error (all tiers
	// failed, deadline exceeded) is trusted as-is: these are detected
	// at the point of failure, not inferable after the fact.
	if trace.ErrorType == model.ErrorTypeSystem {
		return Attribution{ErrorType: model.ErrorTypeSystem, Reason: "system_error"}
	}

	lowered := strings.ToLower(trace.Query)

	if kvFamilyPattern.MatchString(lowered) && !containsStore(trace.StoresQueried, "vector") {
		return Attribution{ErrorType: model.ErrorTypeContextBug, Reason: "wrong_store_queried"}
	}
	if probabilityMarkerPattern.MatchString(lowered) && trace.DetectedMode == "execution" {
		return Attribution{ErrorType: model.ErrorTypeContextBug, Reason: "wrong_mode_detected"}
	}
	if len(trace.RetrievedChunks) == 0 && len(trace.StoresQueried) > 0 {
		return Attribution{ErrorType: model.ErrorTypeContextBug, Reason: "wrong_store_queried"}
	}

	// Context (store, mode, lifecycle filter) looks right; the failure
	// is in what came out of a correctly-chosen path.
	return Attribution{ErrorType: model.ErrorTypeModelBug, Reason: "incorrect_output"}
}

func containsStore(stores []string, name string) bool {
	for _, s := range stores {
		if s == name {
			return true
		}
	}
	return false
}

// WindowSummary aggregates attributions over a batch of traces, mirroring
// tracestore.WindowStats but computed from in-memory Attribution values
// rather than a stored error_type column, so ad-hoc replay batches can be
// summarized without a round trip through the store.
type WindowSummary struct {
	Total        int
	ContextBugs  int
	ModelBugs    int
	SystemErrors int
}

// Summarize classifies every trace and tallies the result.
func Summarize(traces []*model.QueryTrace) WindowSummary {
	var summary WindowSummary
	for _, t := range traces {
		summary.Total++
		switch ClassifyError(t).ErrorType {
		case model.ErrorTypeContextBug:
			summary.ContextBugs++
		case model.ErrorTypeModelBug:
			summary.ModelBugs++
		case model.ErrorTypeSystem:
			summary.SystemErrors++
		}
	}
	return summary
}
