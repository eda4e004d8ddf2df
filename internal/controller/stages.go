package controller

import (
	"context"

	"visualqa/internal/artifacts"
	"visualqa/internal/attribution"
	"visualqa/internal/crawl"
	"visualqa/internal/fidelity"
	"visualqa/internal/manifest"
)

// The controller drives the pipeline through these stage interfaces so the
// state machine can be exercised without a browser or generator service.

// CrawlStage plans a reference site: which pages exist and what each is for.
type CrawlStage interface {
	Crawl(ctx context.Context, site manifest.Case) (*crawl.SitePlan, error)
}

// GenerateStage asks the generator for a rebuild payload. guidance carries
// repair hints from a prior comparison, empty on the first pass.
type GenerateStage interface {
	Generate(ctx context.Context, site manifest.Case, plan *crawl.SitePlan, guidance string) (*artifacts.Payload, error)
}

// CaptureStage screenshots and probes both the reference pages and the
// rebuilt preview, writing artifacts for every page/viewport pair.
type CaptureStage interface {
	Capture(ctx context.Context, site manifest.Case, plan *crawl.SitePlan, payload *artifacts.Payload) error
}

// CompareStage diffs the captured pairs and scores each page.
type CompareStage interface {
	Compare(ctx context.Context, site manifest.Case, plan *crawl.SitePlan) ([]PageScore, error)
}

// Stages bundles the four runners a controller drives.
type Stages struct {
	Crawl    CrawlStage
	Generate GenerateStage
	Capture  CaptureStage
	Compare  CompareStage
}

// PageScore is the comparison outcome for one page at one viewport.
type PageScore struct {
	PageSlug string              `json:"pageSlug"`
	Viewport string              `json:"viewport"`
	Score    fidelity.Score      `json:"score"`
	Summary  attribution.Summary `json:"summary"`
}
