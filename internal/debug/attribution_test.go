package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memcore/memcore/internal/model"
)

func strPtr(s string) *string { return &s }

func TestClassifyErrorNoErrorReturnsEmpty(t *testing.T) {
	got := ClassifyError(&model.QueryTrace{})
	assert.Equal(t, model.ErrorTypeNone, got.ErrorType)
}

func TestClassifyErrorTrustsSystemErrorAlreadySet(t *testing.T) {
	trace := &model.QueryTrace{Error: strPtr("all tiers failed"), ErrorType: model.ErrorTypeSystem}
	got := ClassifyError(trace)
	assert.Equal(t, model.ErrorTypeSystem, got.ErrorType)
}

func TestClassifyErrorFlagsKVFamilyQueryRoutedAwayFromVector(t *testing.T) {
	trace := &model.QueryTrace{
		Error:         strPtr("no results"),
		Query:         "what's my favorite language",
		StoresQueried: []string{"graph", "bayesian"},
	}
	got := ClassifyError(trace)
	assert.Equal(t, model.ErrorTypeContextBug, got.ErrorType)
	assert.Equal(t, "wrong_store_queried", got.Reason)
}

func TestClassifyErrorFlagsProbabilityQueryDetectedAsExecution(t *testing.T) {
	trace := &model.QueryTrace{
		Error:         strPtr("no results"),
		Query:         "what is the posterior probability here",
		DetectedMode:  "execution",
		StoresQueried: []string{"vector"},
		RetrievedChunks: []model.RetrievedChunkRef{
			{ChunkID: "c1", Score: 0.5},
		},
	}
	got := ClassifyError(trace)
	assert.Equal(t, model.ErrorTypeContextBug, got.ErrorType)
	assert.Equal(t, "wrong_mode_detected", got.Reason)
}

func TestClassifyErrorDefaultsToModelBug(t *testing.T) {
	trace := &model.QueryTrace{
		Error:         strPtr("unexpected output"),
		Query:         "find my notes on rust",
		DetectedMode:  "execution",
		StoresQueried: []string{"vector"},
		RetrievedChunks: []model.RetrievedChunkRef{
			{ChunkID: "c1", Score: 0.5},
		},
	}
	got := ClassifyError(trace)
	assert.Equal(t, model.ErrorTypeModelBug, got.ErrorType)
}

func TestSummarizeTalliesAttributions(t *testing.T) {
	traces := []*model.QueryTrace{
		{Error: strPtr("x"), ErrorType: model.ErrorTypeSystem},
		{Error: strPtr("x"), Query: "what's my favorite language", StoresQueried: []string{"graph"}},
		nil,
	}
	summary := Summarize(traces)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.SystemErrors)
	assert.Equal(t, 1, summary.ContextBugs)
}
