package controller

import (
	"time"
)

// Stage names a site's position in the pipeline. The first six are
// transient; the last three are terminal.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageCrawling   Stage = "crawling"
	StageGenerating Stage = "generating"
	StageCapturing  Stage = "capturing"
	StageComparing  Stage = "comparing"
	StageRepairing  Stage = "repairing"

	StageSuccess     Stage = "success"
	StageFailure     Stage = "failure"
	StageCircuitOpen Stage = "circuit_open"
)

// SiteRunState is the per-site bookkeeping the controller mutates as stages
// advance. CircuitOpen is monotonic: once true it never resets within a run.
type SiteRunState struct {
	SiteKey             string
	Stage               Stage
	Attempt             int
	ConsecutiveFailures int
	CircuitOpen         bool
	StartedAt           time.Time
	LastError           error
}

func newSiteState(siteKey string) *SiteRunState {
	return &SiteRunState{
		SiteKey:   siteKey,
		Stage:     StageQueued,
		StartedAt: time.Now(),
	}
}

// recordFailure counts one failed attempt and trips the breaker when the
// consecutive-failure threshold is reached.
func (s *SiteRunState) recordFailure(err error, threshold int) {
	s.LastError = err
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= threshold {
		s.CircuitOpen = true
	}
}
