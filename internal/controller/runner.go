package controller

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"visualqa/internal/artifacts"
	"visualqa/internal/attribution"
	"visualqa/internal/browser"
	"visualqa/internal/config"
	"visualqa/internal/crawl"
	"visualqa/internal/fidelity"
	"visualqa/internal/generator"
	"visualqa/internal/manifest"
	"visualqa/internal/pixeldiff"
	"visualqa/internal/probe"
	"visualqa/internal/viewport"
)

// Runner is the production stage set: crawls with the planner, generates
// through the configured client, captures with the shared browser, and
// scores from on-disk artifacts.
type Runner struct {
	cfg     config.Pipeline
	layout  artifacts.Layout
	crawler *crawl.Crawler
	driver  *browser.Driver
	prober  *probe.Prober
	gen     generator.Client
	preview RenderTarget
	log     *zap.Logger

	mu      sync.Mutex
	resumes map[string]string // siteKey -> generator resume id
}

// RenderTarget resolves the live preview URL for a rebuilt page.
type RenderTarget interface {
	RenderURL(siteKey, page string) string
}

func NewRunner(cfg config.Pipeline, layout artifacts.Layout, crawler *crawl.Crawler, driver *browser.Driver, prober *probe.Prober, gen generator.Client, preview RenderTarget, log *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		layout:  layout,
		crawler: crawler,
		driver:  driver,
		prober:  prober,
		gen:     gen,
		preview: preview,
		log:     log,
		resumes: make(map[string]string),
	}
}

// Stages exposes the runner as the controller's stage set.
func (r *Runner) Stages() Stages {
	return Stages{Crawl: r, Generate: r, Capture: r, Compare: r}
}

// Crawl plans the reference site. Explicit manifest pages override
// discovery; with ingest skipped an existing plan artifact is reused.
func (r *Runner) Crawl(ctx context.Context, site manifest.Case) (*crawl.SitePlan, error) {
	planPath := r.layout.PlanPath(site.Key)
	if r.cfg.SkipIngest {
		var plan crawl.SitePlan
		if err := artifacts.ReadJSON(planPath, &plan); err == nil {
			r.log.Info("reusing crawled plan", zap.String("siteKey", site.Key))
			return &plan, nil
		}
		r.log.Warn("no cached plan, crawling anyway", zap.String("siteKey", site.Key))
	}

	var plan *crawl.SitePlan
	var err error
	if len(site.Pages) > 0 {
		plan, err = r.planFromManifest(site)
	} else {
		plan, err = r.crawler.Plan(ctx, site.URL)
	}
	if err != nil {
		return nil, err
	}
	if len(plan.Pages) > r.cfg.CrawlCapturePages {
		plan.Pages = plan.Pages[:r.cfg.CrawlCapturePages]
	}
	if err := artifacts.WriteJSON(planPath, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *Runner) planFromManifest(site manifest.Case) (*crawl.SitePlan, error) {
	base, err := crawl.NormalizeURL(site.URL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	plan := &crawl.SitePlan{Domain: u.Host}
	for _, slug := range site.Pages {
		ref := *u
		ref.Path = "/" + strings.TrimPrefix(slug, "/")
		pageURL := ref.String()
		plan.Pages = append(plan.Pages, crawl.PagePlan{
			URL:    pageURL,
			Slug:   crawl.SlugFromURL(pageURL),
			Intent: crawl.InferIntent(pageURL),
		})
	}
	return plan, nil
}

// Generate requests a rebuild payload, resuming the prior generation when
// repairing. Falls back to polling the persisted payload path when the
// synchronous response carries no payload.
func (r *Runner) Generate(ctx context.Context, site manifest.Case, plan *crawl.SitePlan, guidance string) (*artifacts.Payload, error) {
	req := generator.Request{
		Prompt:         buildPrompt(site, plan),
		Persist:        true,
		ResumeID:       r.resumeID(site.Key),
		RepairGuidance: guidance,
	}
	resp, err := r.gen.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.ResumeID != "" {
		r.setResumeID(site.Key, resp.ResumeID)
	}

	payload := resp.Payload
	if payload == nil {
		payload, err = generator.WaitForPayload(ctx, r.layout.PayloadPath(site.Key), r.log)
		if err != nil {
			return nil, err
		}
	}
	if payload.SiteKey == "" {
		payload.SiteKey = site.Key
	}
	if err := artifacts.WriteJSON(r.layout.PayloadPath(site.Key), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func buildPrompt(site manifest.Case, plan *crawl.SitePlan) string {
	var b strings.Builder
	b.WriteString(site.Prompt)
	b.WriteString("\n\nRebuild these pages of ")
	b.WriteString(plan.Domain)
	b.WriteString(":\n")
	for _, p := range plan.Pages {
		fmt.Fprintf(&b, "\n## Page %s (%s)\n", p.Slug, p.Intent)
		if p.Brief != "" {
			b.WriteString(p.Brief)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (r *Runner) resumeID(siteKey string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumes[siteKey]
}

func (r *Runner) setResumeID(siteKey, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumes[siteKey] = id
}

// CaptureOriginals screenshots and probes only the reference site. Used by
// crawl-only runs that skip generation entirely.
func (r *Runner) CaptureOriginals(ctx context.Context, siteKey string, plan *crawl.SitePlan) error {
	for _, page := range plan.Pages {
		for _, vp := range viewport.All() {
			err := r.captureOne(ctx, page.URL, vp, true,
				r.layout.ShotOriginalPath(siteKey, page.Slug, vp.Label),
				r.layout.ProbeOriginalPath(siteKey, page.Slug, vp.Label))
			if err != nil {
				return fmt.Errorf("page %s %s: %w", page.Slug, vp.Label, err)
			}
		}
	}
	return nil
}

// Capture screenshots and probes every page at every viewport, reference
// first, then the rebuilt preview.
func (r *Runner) Capture(ctx context.Context, site manifest.Case, plan *crawl.SitePlan, payload *artifacts.Payload) error {
	for _, page := range plan.Pages {
		for _, vp := range viewport.All() {
			if err := r.capturePair(ctx, site.Key, page, vp); err != nil {
				return fmt.Errorf("page %s %s: %w", page.Slug, vp.Label, err)
			}
		}
	}
	return nil
}

func (r *Runner) capturePair(ctx context.Context, siteKey string, page crawl.PagePlan, vp viewport.Viewport) error {
	err := r.captureOne(ctx, page.URL, vp, true,
		r.layout.ShotOriginalPath(siteKey, page.Slug, vp.Label),
		r.layout.ProbeOriginalPath(siteKey, page.Slug, vp.Label))
	if err != nil {
		return fmt.Errorf("original: %w", err)
	}

	renderURL := r.preview.RenderURL(siteKey, page.Slug)
	err = r.captureOne(ctx, renderURL, vp, false,
		r.layout.ShotRebuildPath(siteKey, page.Slug, vp.Label),
		r.layout.ProbeRebuildPath(siteKey, page.Slug, vp.Label))
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	return nil
}

func (r *Runner) captureOne(ctx context.Context, pageURL string, vp viewport.Viewport, stealth bool, shotPath, probePath string) error {
	pg, err := r.driver.OpenPage(ctx, pageURL, vp, stealth)
	if err != nil {
		return err
	}
	defer pg.Close()

	pg.Stabilize(ctx, browser.StabilizeOptions{})

	shot, err := pg.Screenshot(ctx, true)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := artifacts.WriteBytes(shotPath, shot); err != nil {
		return err
	}

	res := r.prober.Extract(ctx, pg, vp)
	return artifacts.WriteJSON(probePath, res)
}

// Compare diffs and scores every captured pair from the on-disk artifacts.
// A missing or undecodable artifact is a structural failure.
func (r *Runner) Compare(ctx context.Context, site manifest.Case, plan *crawl.SitePlan) ([]PageScore, error) {
	policy := fidelity.Policy{
		Threshold:        r.cfg.FidelityThreshold,
		StructuralWeight: r.cfg.StructuralWeight,
		Strict:           r.cfg.FidelityMode == config.ModeStrict,
	}

	var out []PageScore
	for _, page := range plan.Pages {
		for _, vp := range viewport.All() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			score, err := r.comparePair(site.Key, page.Slug, vp.Label, policy)
			if err != nil {
				return nil, fmt.Errorf("page %s %s: %w", page.Slug, vp.Label, err)
			}
			out = append(out, score)
		}
	}
	return out, nil
}

func (r *Runner) comparePair(siteKey, pageSlug, vpLabel string, policy fidelity.Policy) (PageScore, error) {
	original, err := loadImage(r.layout.ShotOriginalPath(siteKey, pageSlug, vpLabel))
	if err != nil {
		return PageScore{}, err
	}
	rebuild, err := loadImage(r.layout.ShotRebuildPath(siteKey, pageSlug, vpLabel))
	if err != nil {
		return PageScore{}, err
	}

	diff, diffImg, err := pixeldiff.Compare(original, rebuild, pixeldiff.Options{Threshold: r.cfg.PixelThreshold})
	if err != nil {
		return PageScore{}, err
	}
	diffPath := r.layout.DiffPath(siteKey, pageSlug, vpLabel)
	if err := pixeldiff.WritePNG(diffPath, diffImg); err != nil {
		return PageScore{}, err
	}
	diff.DiffPath = diffPath

	var originalProbe, rebuildProbe probe.Result
	if err := artifacts.ReadJSON(r.layout.ProbeOriginalPath(siteKey, pageSlug, vpLabel), &originalProbe); err != nil {
		return PageScore{}, err
	}
	if err := artifacts.ReadJSON(r.layout.ProbeRebuildPath(siteKey, pageSlug, vpLabel), &rebuildProbe); err != nil {
		return PageScore{}, err
	}

	signals := attribution.Attribute(originalProbe, rebuildProbe)
	summary := attribution.Summarize(signals)
	report := struct {
		Diff    pixeldiff.Result    `json:"diff"`
		Summary attribution.Summary `json:"attribution"`
	}{Diff: diff, Summary: summary}
	if err := artifacts.WriteJSON(r.layout.AttributionPath(siteKey, pageSlug, vpLabel), report); err != nil {
		return PageScore{}, err
	}

	return PageScore{
		PageSlug: pageSlug,
		Viewport: vpLabel,
		Score:    fidelity.Evaluate(diff.MismatchPercent, summary, policy),
		Summary:  summary,
	}, nil
}

func loadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", pixeldiff.ErrUndecodable, path)
	}
	img, err := pixeldiff.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
