package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"visualqa/internal/artifacts"
	"visualqa/internal/config"
	"visualqa/internal/controller"
)

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if cfg.CrawlSite {
		return runCrawl(cmd, args)
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

	gen, err := buildGenerator(ctx)
	if err != nil {
		return err
	}
	if _, err := p.preview.Swap(ctx, p.payloadSource()); err != nil {
		return fmt.Errorf("start preview: %w", err)
	}

	ctrl := controller.New(cfg, p.newRunner(gen).Stages(), logger)
	report, err := ctrl.Run(ctx, cases)
	if err != nil {
		return err
	}

	return finishRun(ctx, p, cfg, report)
}

// finishRun persists and prints a run report, failing the invocation when
// enforcement demands it.
func finishRun(ctx context.Context, p *pipeline, cfg config.Pipeline, report *controller.RunReport) error {
	reportPath := filepath.Join(p.layout.RunDir(), "report.json")
	if err := artifacts.WriteJSON(reportPath, report); err != nil {
		logger.Warn("report write failed", zap.Error(err))
	}
	run, caseRecords := report.Records()
	if err := p.archive.SaveRun(ctx, run, caseRecords); err != nil {
		logger.Warn("run archive failed", zap.Error(err))
	}

	fmt.Printf("run %s: %d/%d passed (avg %s)\n",
		report.RunID, report.Passed, report.Total, report.AvgDuration().Round(time.Second))
	if report.Warned > 0 {
		fmt.Printf("  %d passed with a fidelity warning\n", report.Warned)
	}
	for _, res := range report.Results {
		line := fmt.Sprintf("  %-20s %-12s score %5.1f", res.SiteKey, res.Stage, res.Score)
		if res.Warning != "" {
			line += "  warn: " + res.Warning
		}
		if res.Error != "" {
			line += "  " + res.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("artifacts: %s\n", p.layout.RunDir())

	if cfg.FidelityEnforcement == config.EnforceFail && report.Passed < report.Total {
		return fmt.Errorf("%d of %d sites failed", report.Total-report.Passed, report.Total)
	}
	return nil
}
