package fidelity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualqa/internal/attribution"
)

func policy() Policy {
	return Policy{Threshold: 75, StructuralWeight: 0.35}
}

func TestPerfectMatchScoresHundred(t *testing.T) {
	s := Evaluate(0, attribution.Summary{}, policy())
	assert.Equal(t, 100.0, s.Pixel)
	assert.Equal(t, 100.0, s.Structural)
	assert.Equal(t, 100.0, s.Value)
	assert.True(t, s.Passed)
	assert.Empty(t, s.Reason)
}

func TestStructuralPenalties(t *testing.T) {
	s := Evaluate(0, attribution.Summary{High: 1, Medium: 2, Low: 3}, policy())
	// 100 - 12 - 10 - 6 = 72
	assert.Equal(t, 72.0, s.Structural)
	// 0.65*100 + 0.35*72 = 90.2
	assert.InDelta(t, 90.2, s.Value, 1e-9)
	assert.True(t, s.Passed)
}

func TestStructuralScoreFloorsAtZero(t *testing.T) {
	s := Evaluate(0, attribution.Summary{High: 10}, policy())
	assert.Equal(t, 0.0, s.Structural)
	// 0.65*100 + 0.35*0 = 65, under the threshold.
	assert.False(t, s.Passed)
	assert.Contains(t, s.Reason, "below threshold")
}

func TestPixelDominatesWithLowWeight(t *testing.T) {
	p := policy()
	p.StructuralWeight = 0.1

	s := Evaluate(0.3, attribution.Summary{}, p)
	assert.InDelta(t, 70.0, s.Pixel, 1e-9)
	assert.InDelta(t, 73.0, s.Value, 1e-9)
	assert.False(t, s.Passed)
}

func TestStrictPageFloor(t *testing.T) {
	p := policy()
	p.Strict = true

	// Pixel 64 with a clean structure blends to 76.6: over the threshold
	// (75) but under the strict floor (78).
	s := Evaluate(0.36, attribution.Summary{}, p)
	require.InDelta(t, 76.6, s.Value, 1e-9)
	assert.False(t, s.Passed)
	assert.Contains(t, s.Reason, "strict page floor")

	p.Strict = false
	s = Evaluate(0.36, attribution.Summary{}, p)
	assert.True(t, s.Passed)
}

func TestRunPassedStrictAverage(t *testing.T) {
	p := policy()
	p.Strict = true

	// Every page clears its own gate but the average (84.5) misses 85.
	scores := []Score{
		{Value: 91, Passed: true},
		{Value: 78, Passed: true},
	}
	ok, reason := RunPassed(scores, p)
	assert.False(t, ok)
	assert.Contains(t, reason, "run average")

	scores = []Score{{Value: 92, Passed: true}, {Value: 88, Passed: true}}
	ok, reason = RunPassed(scores, p)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestRunPassedPropagatesPageFailure(t *testing.T) {
	ok, reason := RunPassed([]Score{
		{Value: 95, Passed: true},
		{Value: 40, Passed: false, Reason: "score 40.0 below threshold 75.0"},
	}, policy())
	assert.False(t, ok)
	assert.Contains(t, reason, "below threshold")
}

func TestRunPassedEmptyRun(t *testing.T) {
	ok, reason := RunPassed(nil, policy())
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}
