// Package fidelity folds a pixel mismatch and a structural signal summary
// into a single 0-100 score and decides whether a page, or a whole run,
// clears its gate.
package fidelity

import (
	"fmt"

	"visualqa/internal/attribution"
)

// Severity penalties applied to the structural sub-score.
const (
	penaltyHigh   = 12
	penaltyMedium = 5
	penaltyLow    = 2
)

// Strict-mode floors, on top of the configured threshold.
const (
	StrictPageFloor = 78.0
	StrictRunFloor  = 85.0
)

// Policy is the gate configuration for one run.
type Policy struct {
	// Threshold is the minimum acceptable score, 0-100.
	Threshold float64
	// StructuralWeight blends the structural sub-score into the final
	// value, 0-1.
	StructuralWeight float64
	// Strict additionally enforces the per-page and run-average floors.
	Strict bool
}

// Score is the fidelity verdict for one (page, viewport) comparison.
type Score struct {
	Pixel      float64 `json:"pixel"`
	Structural float64 `json:"structural"`
	Value      float64 `json:"value"`
	Passed     bool    `json:"passed"`
	Reason     string  `json:"reason,omitempty"`
}

// Evaluate computes the blended score for a page.
//
// Pixel is (1 - mismatch) scaled to 100. Structural starts at 100 and loses
// a fixed penalty per signal by severity, floored at zero. The blend is
// (1-w)*pixel + w*structural. In strict mode a page additionally fails when
// its blended value is below the per-page floor, even if it clears the
// configured threshold.
func Evaluate(mismatchPercent float64, summary attribution.Summary, p Policy) Score {
	s := Score{
		Pixel:      (1 - mismatchPercent) * 100,
		Structural: structuralScore(summary),
	}
	w := p.StructuralWeight
	s.Value = (1-w)*s.Pixel + w*s.Structural

	switch {
	case s.Value < p.Threshold:
		s.Reason = fmt.Sprintf("score %.1f below threshold %.1f", s.Value, p.Threshold)
	case p.Strict && s.Value < StrictPageFloor:
		s.Reason = fmt.Sprintf("score %.1f below strict page floor %.1f", s.Value, StrictPageFloor)
	default:
		s.Passed = true
	}
	return s
}

// RunPassed applies the run-level gate to the per-page scores: every page
// must have passed, and in strict mode the average must clear the run floor.
// An empty run does not pass.
func RunPassed(scores []Score, p Policy) (bool, string) {
	if len(scores) == 0 {
		return false, "no pages were scored"
	}
	var sum float64
	for _, s := range scores {
		if !s.Passed {
			return false, s.Reason
		}
		sum += s.Value
	}
	if avg := sum / float64(len(scores)); p.Strict && avg < StrictRunFloor {
		return false, fmt.Sprintf("run average %.1f below strict floor %.1f", avg, StrictRunFloor)
	}
	return true, ""
}

func structuralScore(summary attribution.Summary) float64 {
	score := 100.0
	score -= float64(summary.High * penaltyHigh)
	score -= float64(summary.Medium * penaltyMedium)
	score -= float64(summary.Low * penaltyLow)
	if score < 0 {
		return 0
	}
	return score
}
