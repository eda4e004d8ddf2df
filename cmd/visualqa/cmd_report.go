package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"visualqa/internal/store"
)

// runReport prints archived run history, or one run's case outcomes when a
// run id is given.
func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	archive, err := store.Open(filepath.Join(cfg.Output, "runs.db"), logger)
	if err != nil {
		return err
	}
	defer archive.Close()

	ctx := context.Background()
	if len(args) == 1 {
		return printCases(ctx, archive, args[0])
	}

	runs, err := archive.RecentRuns(ctx, 20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	fmt.Printf("%-40s %-12s %-20s %7s %7s %10s\n", "RUN", "GROUP", "STARTED", "PASSED", "TOTAL", "AVG")
	for _, r := range runs {
		fmt.Printf("%-40s %-12s %-20s %7d %7d %10s\n",
			r.RunID, r.GroupID, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Passed, r.Total, (time.Duration(r.AvgDurationMS) * time.Millisecond).Round(time.Second))
	}
	return nil
}

func printCases(ctx context.Context, archive *store.Store, runID string) error {
	results, err := archive.CaseResults(ctx, runID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("no case results for run %s\n", runID)
		return nil
	}
	fmt.Printf("%-20s %-14s %-6s %7s  %s\n", "SITE", "STAGE", "PASS", "SCORE", "ERROR")
	for _, c := range results {
		pass := "no"
		if c.Passed {
			pass = "yes"
		}
		fmt.Printf("%-20s %-14s %-6s %7.1f  %s\n", c.SiteKey, c.Stage, pass, c.Score, c.Error)
	}
	return nil
}
