// Package controller orchestrates the fidelity pipeline: per-site state
// machine, stage pools, retry and circuit-breaker policy, the auto-repair
// loop, and strategy comparison across generator configurations.
package controller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"visualqa/internal/artifacts"
	"visualqa/internal/attribution"
	"visualqa/internal/config"
	"visualqa/internal/crawl"
	"visualqa/internal/fidelity"
	"visualqa/internal/generator"
	"visualqa/internal/manifest"
)

// Controller runs the full pipeline over a case set. Stage pools are shared
// across sites; stage transitions within one site are strictly sequential.
type Controller struct {
	cfg    config.Pipeline
	stages Stages
	log    *zap.Logger

	crawlSem   *semaphore.Weighted
	shotSem    *semaphore.Weighted
	regressSem *semaphore.Weighted
}

func New(cfg config.Pipeline, stages Stages, log *zap.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		stages:     stages,
		log:        log,
		crawlSem:   semaphore.NewWeighted(int64(cfg.CrawlConcurrency)),
		shotSem:    semaphore.NewWeighted(int64(cfg.ScreenshotConcurrency)),
		regressSem: semaphore.NewWeighted(int64(cfg.RegressionConcurrency)),
	}
}

// SiteResult is the terminal outcome of one site.
type SiteResult struct {
	SiteKey  string        `json:"siteKey"`
	Stage    Stage         `json:"stage"`
	Passed   bool          `json:"passed"`
	Score    float64       `json:"score"`
	Warning  string        `json:"warning,omitempty"`
	Error    string        `json:"error,omitempty"`
	Repairs  int           `json:"repairs"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Pages    []PageScore   `json:"pages,omitempty"`
}

// RunReport aggregates one pipeline run. Results are sorted by site key,
// not completion order.
type RunReport struct {
	RunID     string        `json:"runId"`
	GroupID   string        `json:"groupId,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Warned    int           `json:"warned"`
	Results   []SiteResult  `json:"results"`
}

// AvgDuration is the mean per-site wall time.
func (r *RunReport) AvgDuration() time.Duration {
	if len(r.Results) == 0 {
		return 0
	}
	var sum time.Duration
	for _, res := range r.Results {
		sum += res.Duration
	}
	return sum / time.Duration(len(r.Results))
}

// Run executes every case, bounding whole-pipeline concurrency. One site's
// failure never aborts its siblings; the only returned error is an empty
// case set.
func (c *Controller) Run(ctx context.Context, cases []manifest.Case) (*RunReport, error) {
	if len(cases) == 0 {
		return nil, fmt.Errorf("controller: no cases to run")
	}

	report := &RunReport{
		RunID:     c.cfg.RunID,
		StartedAt: time.Now(),
		Total:     len(cases),
	}
	results := make([]SiteResult, len(cases))

	eg := &errgroup.Group{}
	eg.SetLimit(c.cfg.PipelineParallel)
	for i, site := range cases {
		eg.Go(func() error {
			results[i] = c.runSite(ctx, site)
			return nil
		})
	}
	eg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].SiteKey < results[j].SiteKey })
	for _, res := range results {
		if res.Passed {
			report.Passed++
			if res.Warning != "" {
				report.Warned++
			}
		}
	}
	report.Results = results
	report.Duration = time.Since(report.StartedAt)

	c.log.Info("run complete",
		zap.String("runId", report.RunID),
		zap.Int("total", report.Total),
		zap.Int("passed", report.Passed),
		zap.Int("warned", report.Warned),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// attemptOutcome is a completed attempt: either the site's verdict was
// decided (success or a policy failure, never retried) or scores were
// produced under warn enforcement.
type attemptOutcome struct {
	pages   []PageScore
	passed  bool
	reason  string
	repairs int
}

func (c *Controller) runSite(ctx context.Context, site manifest.Case) (res SiteResult) {
	state := newSiteState(site.Key)
	log := c.log.With(zap.String("siteKey", site.Key))

	defer func() {
		if r := recover(); r != nil {
			log.Error("site pipeline panicked", zap.Any("panic", r))
			state.Stage = StageFailure
			res = c.finish(state, attemptOutcome{reason: fmt.Sprintf("panic: %v", r)})
		}
	}()

	siteCtx := ctx
	if c.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		siteCtx, cancel = context.WithTimeout(ctx, c.cfg.TotalTimeout)
		defer cancel()
	}

	var outcome attemptOutcome
	for attempt := 0; attempt <= c.cfg.SiteRetryCount; attempt++ {
		if attempt > 0 {
			log.Info("retrying site",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", c.cfg.SiteRetryDelay))
			if err := sleepCtx(siteCtx, c.cfg.SiteRetryDelay); err != nil {
				state.LastError = err
				break
			}
		}
		state.Attempt = attempt + 1

		var err error
		outcome, err = c.attempt(siteCtx, site, state, log)
		if err == nil {
			if outcome.passed {
				state.Stage = StageSuccess
			} else {
				// Policy failures are terminal, never retried.
				state.Stage = StageFailure
				state.LastError = fmt.Errorf("fidelity: %s", outcome.reason)
			}
			return c.finish(state, outcome)
		}

		log.Warn("site attempt failed",
			zap.Int("attempt", state.Attempt),
			zap.String("stage", string(state.Stage)),
			zap.Error(err))
		state.recordFailure(err, c.cfg.SiteCircuitBreakerThreshold)
		if state.CircuitOpen {
			log.Warn("circuit breaker tripped",
				zap.Int("consecutiveFailures", state.ConsecutiveFailures))
			state.Stage = StageCircuitOpen
			return c.finish(state, outcome)
		}
	}

	state.Stage = StageFailure
	return c.finish(state, outcome)
}

func (c *Controller) finish(state *SiteRunState, outcome attemptOutcome) SiteResult {
	res := SiteResult{
		SiteKey:  state.SiteKey,
		Stage:    state.Stage,
		Passed:   state.Stage == StageSuccess,
		Score:    worstValue(outcome.pages),
		Repairs:  outcome.repairs,
		Attempts: state.Attempt,
		Duration: time.Since(state.StartedAt),
		Pages:    outcome.pages,
	}
	if state.Stage == StageSuccess && outcome.reason != "" {
		res.Warning = outcome.reason
	}
	if state.LastError != nil && state.Stage != StageSuccess {
		res.Error = state.LastError.Error()
	} else if state.Stage == StageFailure && outcome.reason != "" {
		res.Error = outcome.reason
	}
	return res
}

// attempt drives one pass through the stages. A returned error is a stage
// failure (transient or structural) and counts toward retry and breaker
// bookkeeping; a nil error means the verdict is settled.
func (c *Controller) attempt(ctx context.Context, site manifest.Case, state *SiteRunState, log *zap.Logger) (attemptOutcome, error) {
	state.Stage = StageCrawling
	var plan *crawl.SitePlan
	err := c.withPool(ctx, c.crawlSem, c.cfg.CrawlTimeout, func(sctx context.Context) error {
		var err error
		plan, err = c.stages.Crawl.Crawl(sctx, site)
		return err
	})
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("crawl: %w", err)
	}

	state.Stage = StageGenerating
	payload, err := c.stages.Generate.Generate(ctx, site, plan, "")
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("generate: %w", err)
	}

	pages, err := c.captureAndCompare(ctx, site, state, plan, payload)
	if err != nil {
		return attemptOutcome{}, err
	}
	if c.cfg.SkipRegression {
		return attemptOutcome{passed: true}, nil
	}

	policy := c.policy()
	passed, reason := runVerdict(pages, policy)
	repairs := 0
	for !passed && repairs < c.cfg.AutoRepairIterations {
		repairs++
		state.Stage = StageRepairing
		guidance := generator.BuildRepairGuidance(mergeSummaries(pages))
		log.Info("auto-repair iteration",
			zap.Int("iteration", repairs),
			zap.String("reason", reason))

		state.Stage = StageGenerating
		payload, err = c.stages.Generate.Generate(ctx, site, plan, guidance)
		if err != nil {
			return attemptOutcome{repairs: repairs}, fmt.Errorf("repair generate: %w", err)
		}
		pages, err = c.captureAndCompare(ctx, site, state, plan, payload)
		if err != nil {
			return attemptOutcome{repairs: repairs}, err
		}
		passed, reason = runVerdict(pages, policy)
	}

	if passed {
		return attemptOutcome{pages: pages, passed: true, repairs: repairs}, nil
	}
	if c.cfg.FidelityEnforcement == config.EnforceWarn {
		log.Warn("fidelity below threshold, enforcement is warn", zap.String("reason", reason))
		return attemptOutcome{pages: pages, passed: true, reason: reason, repairs: repairs}, nil
	}
	return attemptOutcome{pages: pages, reason: reason, repairs: repairs}, nil
}

func (c *Controller) captureAndCompare(ctx context.Context, site manifest.Case, state *SiteRunState, plan *crawl.SitePlan, payload *artifacts.Payload) ([]PageScore, error) {
	state.Stage = StageCapturing
	err := c.withPool(ctx, c.shotSem, c.cfg.ScreenshotTimeout, func(sctx context.Context) error {
		return c.stages.Capture.Capture(sctx, site, plan, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if c.cfg.SkipRegression {
		return nil, nil
	}

	state.Stage = StageComparing
	var pages []PageScore
	err = c.withPool(ctx, c.regressSem, c.cfg.RegressionTimeout, func(sctx context.Context) error {
		var err error
		pages, err = c.stages.Compare.Compare(sctx, site, plan)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	return pages, nil
}

// withPool serializes a stage behind its pool and bounds it with the stage
// timeout. A timeout surfaces as an ordinary stage failure.
func (c *Controller) withPool(ctx context.Context, sem *semaphore.Weighted, timeout time.Duration, fn func(context.Context) error) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(sctx)
}

func (c *Controller) policy() fidelity.Policy {
	return fidelity.Policy{
		Threshold:        c.cfg.FidelityThreshold,
		StructuralWeight: c.cfg.StructuralWeight,
		Strict:           c.cfg.FidelityMode == config.ModeStrict,
	}
}

func runVerdict(pages []PageScore, policy fidelity.Policy) (bool, string) {
	scores := make([]fidelity.Score, len(pages))
	for i, p := range pages {
		scores[i] = p.Score
	}
	return fidelity.RunPassed(scores, policy)
}

func mergeSummaries(pages []PageScore) attribution.Summary {
	var signals []attribution.Signal
	for _, p := range pages {
		signals = append(signals, p.Summary.Signals...)
	}
	return attribution.Summarize(signals)
}

func worstValue(pages []PageScore) float64 {
	if len(pages) == 0 {
		return 0
	}
	worst := pages[0].Score.Value
	for _, p := range pages[1:] {
		if p.Score.Value < worst {
			worst = p.Score.Value
		}
	}
	return worst
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
