package modedetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectExecutionFromImperativeQuery(t *testing.T) {
	result := Detect("show me where is the failing test and debug it")
	assert.Equal(t, ModeExecution, result.Mode)
	assert.False(t, result.DefaultedToExec)
	assert.GreaterOrEqual(t, result.Confidence, ConfidenceThreshold)
}

func TestDetectPlanningFromComparativeQuery(t *testing.T) {
	result := Detect("should I migrate to postgres vs staying on sqlite, what are the tradeoffs")
	assert.Equal(t, ModePlanning, result.Mode)
	assert.GreaterOrEqual(t, result.Confidence, ConfidenceThreshold)
}

func TestDetectBrainstormingFromHypotheticalQuery(t *testing.T) {
	result := Detect("what if we could brainstorm some ideas for the onboarding flow")
	assert.Equal(t, ModeBrainstorming, result.Mode)
	assert.GreaterOrEqual(t, result.Confidence, ConfidenceThreshold)
}

func TestDetectDefaultsToExecutionBelowThreshold(t *testing.T) {
	result := Detect("banana")
	assert.Equal(t, ModeExecution, result.Mode)
	assert.True(t, result.DefaultedToExec)
	assert.Less(t, result.Confidence, ConfidenceThreshold)
}

func TestDetectRecordsWinningPatterns(t *testing.T) {
	result := Detect("brainstorm some ideas for this")
	assert.NotEmpty(t, result.WinningPatterns)
}

func TestDetectCompletesWithinLatencyBudget(t *testing.T) {
	result := Detect("what is the difference between a mutex and a channel, should I use one or the other")
	assert.Less(t, result.Latency, LatencyBudget)
}

func TestScoreFamilyCapsAtOne(t *testing.T) {
	score, hits := scoreFamily("what is show me find look up get run execute fix debug where is how do i", executionPatterns)
	assert.Equal(t, 1.0, score)
	assert.NotEmpty(t, hits)
}
