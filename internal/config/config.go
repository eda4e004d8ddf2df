// Package config holds the pipeline run configuration.
//
// Raw CLI options are collected into Options and turned into a validated,
// clamped Pipeline by Resolve. The Pipeline value is built once at run start
// and read-only afterwards; every component receives it by value.
package config

import (
	"fmt"
	"time"
)

// Fidelity modes.
const (
	ModeStandard = "standard"
	ModeStrict   = "strict"
)

// Fidelity enforcement actions.
const (
	EnforceWarn = "warn"
	EnforceFail = "fail"
)

// Renderer targets for the preview server.
const (
	RendererSandbox = "sandbox"
	RendererRender  = "render"
)

// Options are the raw, unclamped values as collected from CLI flags.
type Options struct {
	Manifest string
	RunID    string
	Groups   []string
	Renderer string
	MaxCases int
	Output   string

	SkipIngest     bool
	SkipRegression bool

	CrawlSite         bool
	CrawlMaxPages     int
	CrawlMaxDepth     int
	CrawlCapturePages int

	FidelityMode         string
	FidelityThreshold    float64
	FidelityEnforcement  string
	StructuralWeight     float64
	PixelThreshold       float64
	AutoRepairIterations int

	CrawlConcurrency      int
	ScreenshotConcurrency int
	RegressionConcurrency int
	PipelineParallel      int

	CrawlTimeoutMs      int
	ScreenshotTimeoutMs int
	RegressionTimeoutMs int
	TotalTimeoutMs      int

	SiteRetryCount              int
	SiteRetryDelayMs            int
	SiteCircuitBreakerThreshold int
}

// Pipeline is the normalized run configuration. All numeric fields are
// clamped to documented bounds, never rejected.
type Pipeline struct {
	Manifest string
	RunID    string
	Groups   []string
	Renderer string
	MaxCases int
	Output   string

	SkipIngest     bool
	SkipRegression bool

	CrawlSite         bool
	CrawlMaxPages     int
	CrawlMaxDepth     int
	CrawlCapturePages int

	FidelityMode         string
	FidelityThreshold    float64
	FidelityEnforcement  string
	StructuralWeight     float64
	PixelThreshold       float64
	AutoRepairIterations int

	// Strict-mode similarity floors.
	StrictAvgSimilarityMin  float64
	StrictPageSimilarityMin float64

	CrawlConcurrency      int
	ScreenshotConcurrency int
	RegressionConcurrency int
	PipelineParallel      int

	CrawlTimeout      time.Duration
	ScreenshotTimeout time.Duration
	RegressionTimeout time.Duration
	TotalTimeout      time.Duration // zero means unbounded

	SiteRetryCount              int
	SiteRetryDelay              time.Duration
	SiteCircuitBreakerThreshold int
}

// Defaults mirrors the documented flag defaults.
func Defaults() Options {
	return Options{
		Renderer:                    RendererSandbox,
		Output:                      "out",
		CrawlMaxPages:               5,
		CrawlMaxDepth:               2,
		CrawlCapturePages:           3,
		FidelityMode:                ModeStandard,
		FidelityThreshold:           75,
		FidelityEnforcement:         EnforceWarn,
		StructuralWeight:            0.35,
		PixelThreshold:              0.1,
		AutoRepairIterations:        0,
		CrawlConcurrency:            2,
		ScreenshotConcurrency:       2,
		RegressionConcurrency:       3,
		PipelineParallel:            3,
		CrawlTimeoutMs:              120_000,
		ScreenshotTimeoutMs:         90_000,
		RegressionTimeoutMs:         180_000,
		SiteRetryCount:              1,
		SiteRetryDelayMs:            2_000,
		SiteCircuitBreakerThreshold: 3,
	}
}

// Resolve validates and clamps Options into a Pipeline. Only categorical
// values (mode, enforcement, renderer) can fail; numeric options are clamped.
func Resolve(o Options) (Pipeline, error) {
	switch o.FidelityMode {
	case ModeStandard, ModeStrict:
	case "":
		o.FidelityMode = ModeStandard
	default:
		return Pipeline{}, fmt.Errorf("invalid fidelity mode %q (want standard|strict)", o.FidelityMode)
	}
	switch o.FidelityEnforcement {
	case EnforceWarn, EnforceFail:
	case "":
		o.FidelityEnforcement = EnforceWarn
	default:
		return Pipeline{}, fmt.Errorf("invalid fidelity enforcement %q (want warn|fail)", o.FidelityEnforcement)
	}
	switch o.Renderer {
	case RendererSandbox, RendererRender:
	case "":
		o.Renderer = RendererSandbox
	default:
		return Pipeline{}, fmt.Errorf("invalid renderer %q (want sandbox|render)", o.Renderer)
	}

	p := Pipeline{
		Manifest: o.Manifest,
		RunID:    o.RunID,
		Groups:   o.Groups,
		Renderer: o.Renderer,
		Output:   o.Output,

		SkipIngest:     o.SkipIngest,
		SkipRegression: o.SkipRegression,
		CrawlSite:      o.CrawlSite,

		FidelityMode:        o.FidelityMode,
		FidelityEnforcement: o.FidelityEnforcement,

		StrictAvgSimilarityMin:  85,
		StrictPageSimilarityMin: 78,
	}

	p.MaxCases = clampInt(o.MaxCases, 0, 500)
	p.CrawlMaxPages = clampInt(o.CrawlMaxPages, 1, 50)
	p.CrawlMaxDepth = clampInt(o.CrawlMaxDepth, 1, 5)
	p.CrawlCapturePages = clampInt(o.CrawlCapturePages, 1, p.CrawlMaxPages)

	p.FidelityThreshold = clampFloat(o.FidelityThreshold, 0, 100)
	p.StructuralWeight = clampFloat(o.StructuralWeight, 0, 1)
	p.PixelThreshold = clampFloat(o.PixelThreshold, 0.01, 1)
	p.AutoRepairIterations = clampInt(o.AutoRepairIterations, 0, 5)

	p.CrawlConcurrency = clampInt(o.CrawlConcurrency, 1, 16)
	p.ScreenshotConcurrency = clampInt(o.ScreenshotConcurrency, 1, 16)
	p.RegressionConcurrency = clampInt(o.RegressionConcurrency, 1, 16)
	p.PipelineParallel = clampInt(o.PipelineParallel, 1, 16)

	p.CrawlTimeout = clampMs(o.CrawlTimeoutMs, 5_000, 600_000)
	p.ScreenshotTimeout = clampMs(o.ScreenshotTimeoutMs, 5_000, 600_000)
	p.RegressionTimeout = clampMs(o.RegressionTimeoutMs, 5_000, 600_000)
	if o.TotalTimeoutMs > 0 {
		p.TotalTimeout = clampMs(o.TotalTimeoutMs, 10_000, 3_600_000)
	}

	p.SiteRetryCount = clampInt(o.SiteRetryCount, 0, 10)
	p.SiteRetryDelay = clampMs(o.SiteRetryDelayMs, 0, 60_000)
	p.SiteCircuitBreakerThreshold = clampInt(o.SiteCircuitBreakerThreshold, 1, 20)

	return p, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampMs(ms, lo, hi int) time.Duration {
	return time.Duration(clampInt(ms, lo, hi)) * time.Millisecond
}
