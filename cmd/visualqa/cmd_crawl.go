package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runCrawl crawls and captures the reference sites without generating
// anything: useful for building a baseline artifact set or debugging the
// stabilization contract against a new site.
func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, cases, err := loadCases(cfg)
	if err != nil {
		return err
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close(context.Background())

	runner := p.newRunner(nil)
	var failed int
	for _, site := range cases {
		log := logger.With(zap.String("siteKey", site.Key))
		plan, err := runner.Crawl(ctx, site)
		if err != nil {
			log.Error("crawl failed", zap.Error(err))
			failed++
			continue
		}
		if err := runner.CaptureOriginals(ctx, site.Key, plan); err != nil {
			log.Error("capture failed", zap.Error(err))
			failed++
			continue
		}
		fmt.Printf("  %-20s %d pages captured\n", site.Key, len(plan.Pages))
	}

	fmt.Printf("artifacts: %s\n", p.layout.RunDir())
	if failed > 0 {
		return fmt.Errorf("%d of %d sites failed to capture", failed, len(cases))
	}
	return nil
}
