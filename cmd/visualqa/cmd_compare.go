package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"visualqa/internal/artifacts"
	"visualqa/internal/controller"
	"visualqa/internal/manifest"
)

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, cases, err := loadCases(cfg)
	if err != nil {
		return err
	}
	groups, err := m.SelectGroups(strings.Join(cfg.Groups, ","))
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return fmt.Errorf("manifest %s defines no strategy groups", cfg.Manifest)
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close(context.Background())

	// Each group gets a fresh preview instance and its own generator client
	// so env overlays take effect; the port is handed over between groups.
	runGroup := func(ctx context.Context, group manifest.Group) (*controller.RunReport, error) {
		groupCfg := cfg
		groupCfg.RunID = fmt.Sprintf("%s-%s", cfg.RunID, group.ID)
		groupLayout := artifacts.NewLayout(cfg.Output, groupCfg.RunID)

		source := func(siteKey string) (*artifacts.Payload, error) {
			return artifacts.LoadPayload(groupLayout.PayloadPath(siteKey))
		}
		if _, err := p.preview.Swap(ctx, source); err != nil {
			return nil, fmt.Errorf("preview handoff: %w", err)
		}
		gen, err := buildGenerator(ctx)
		if err != nil {
			return nil, err
		}

		runner := controller.NewRunner(groupCfg, groupLayout, p.crawler, p.driver, p.prober, gen, p.preview, logger)
		ctrl := controller.New(groupCfg, runner.Stages(), logger)
		report, err := ctrl.Run(ctx, cases)
		if err != nil {
			return nil, err
		}
		report.GroupID = group.ID

		run, caseRecords := report.Records()
		if err := p.archive.SaveRun(ctx, run, caseRecords); err != nil {
			logger.Warn("group archive failed", zap.String("group", group.ID), zap.Error(err))
		}
		return report, nil
	}

	report, err := controller.CompareStrategies(ctx, cfg.RunID, groups, runGroup, p.layout, logger)
	if err != nil {
		return err
	}

	fmt.Printf("compared %d strategies over %d cases:\n", len(report.Groups), len(cases))
	for _, g := range report.Groups {
		if g.Report == nil {
			fmt.Printf("  %-16s failed: %s\n", g.Group.ID, g.Error)
			continue
		}
		fmt.Printf("  %-16s %d/%d passed, avg %s\n",
			g.Group.ID, g.Report.Passed, g.Report.Total, g.Report.AvgDuration().Round(time.Second))
	}
	fmt.Printf("reports: %s\n", p.layout.ComparisonDir())
	return nil
}
