package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"visualqa/internal/artifacts"
	"visualqa/internal/browser"
	"visualqa/internal/config"
	"visualqa/internal/controller"
	"visualqa/internal/crawl"
	"visualqa/internal/generator"
	"visualqa/internal/manifest"
	"visualqa/internal/preview"
	"visualqa/internal/probe"
	"visualqa/internal/store"
	"visualqa/internal/viewport"
)

// pipeline is the assembled shared infrastructure one invocation owns.
type pipeline struct {
	cfg     config.Pipeline
	layout  artifacts.Layout
	driver  *browser.Driver
	preview *preview.Manager
	crawler *crawl.Crawler
	prober  *probe.Prober
	archive *store.Store
}

func buildPipeline(ctx context.Context, cfg config.Pipeline) (*pipeline, error) {
	archive, err := store.Open(filepath.Join(cfg.Output, "runs.db"), logger)
	if err != nil {
		return nil, err
	}

	bcfg := browser.DefaultConfig()
	bcfg.DebuggerURL = browserURL
	bcfg.Bin = browserBin
	driver := browser.NewDriver(bcfg, logger)
	if err := driver.Start(ctx); err != nil {
		archive.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	escalate := func(ctx context.Context, pageURL string) (string, error) {
		pg, err := driver.OpenPage(ctx, pageURL, viewport.Desktop, true)
		if err != nil {
			return "", err
		}
		defer pg.Close()
		pg.Stabilize(ctx, browser.StabilizeOptions{})
		return pg.HTML(ctx)
	}
	crawler := crawl.New(
		crawl.NewHTTPFetcher(escalate, logger),
		crawl.Config{MaxPages: cfg.CrawlMaxPages, MaxDepth: cfg.CrawlMaxDepth},
		logger)

	return &pipeline{
		cfg:     cfg,
		layout:  artifacts.NewLayout(cfg.Output, cfg.RunID),
		driver:  driver,
		preview: preview.NewManager(previewPort, logger),
		crawler: crawler,
		prober:  probe.New(probe.Config{}, logger),
		archive: archive,
	}, nil
}

func (p *pipeline) close(ctx context.Context) {
	if err := p.preview.Close(ctx); err != nil {
		logger.Warn("preview shutdown failed", zap.Error(err))
	}
	if err := p.driver.Close(); err != nil {
		logger.Warn("browser shutdown failed", zap.Error(err))
	}
	if err := p.archive.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

// payloadSource serves the preview from each site's persisted payload.
func (p *pipeline) payloadSource() preview.PayloadSource {
	return func(siteKey string) (*artifacts.Payload, error) {
		return artifacts.LoadPayload(p.layout.PayloadPath(siteKey))
	}
}

// newRunner wires the production stage set against the shared resources.
func (p *pipeline) newRunner(gen generator.Client) *controller.Runner {
	return controller.NewRunner(p.cfg, p.layout, p.crawler, p.driver, p.prober, gen, p.preview, logger)
}

// generatorRegistry lists providers in priority order: the hosted generator
// service first, direct Gemini second.
func generatorRegistry(ctx context.Context) generator.Registry {
	return generator.Registry{
		{
			Name:       "service",
			Credential: os.Getenv("SITEGEN_API_URL"),
			Build: func() (generator.Client, error) {
				return generator.NewHTTPClient(os.Getenv("SITEGEN_API_URL"), os.Getenv("SITEGEN_API_TOKEN")), nil
			},
		},
		{
			Name:       "gemini",
			Credential: os.Getenv("GEMINI_API_KEY"),
			Build: func() (generator.Client, error) {
				return generator.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), os.Getenv("GEMINI_MODEL"))
			},
		},
	}
}

func buildGenerator(ctx context.Context) (generator.Client, error) {
	provider, ok := generator.Select(generatorRegistry(ctx))
	if !ok {
		return nil, fmt.Errorf("no generator provider configured: set SITEGEN_API_URL or GEMINI_API_KEY")
	}
	logger.Info("generator provider selected", zap.String("provider", provider.Name))
	return provider.Build()
}

// loadCases resolves the manifest into the case set this run covers.
func loadCases(cfg config.Pipeline) (*manifest.Manifest, []manifest.Case, error) {
	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, nil, err
	}
	m.LimitCases(cfg.MaxCases)
	if len(m.Cases) == 0 {
		return nil, nil, fmt.Errorf("manifest %s has no cases", cfg.Manifest)
	}
	return m, m.Cases, nil
}
