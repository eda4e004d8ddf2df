package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"visualqa/internal/artifacts"
	"visualqa/internal/manifest"
)

// GroupRunFunc runs the full pipeline under one strategy group. The caller
// owns preview server handoff; env overlays are applied around the call.
type GroupRunFunc func(ctx context.Context, group manifest.Group) (*RunReport, error)

// GroupResult is one strategy's outcome within a comparison sweep.
type GroupResult struct {
	Group  manifest.Group `json:"group"`
	Report *RunReport     `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// StrategyRunReport compares N generator configurations over a shared case
// set.
type StrategyRunReport struct {
	RunID     string        `json:"runId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Groups    []GroupResult `json:"groups"`
}

// CompareStrategies runs each group sequentially (cases inside a group
// still run concurrently), applying the group's environment overlay for
// the duration of its run. A failed group is recorded and does not stop
// the sweep. The report is written as JSON and Markdown under the
// comparison directory.
func CompareStrategies(ctx context.Context, runID string, groups []manifest.Group, run GroupRunFunc, layout artifacts.Layout, log *zap.Logger) (*StrategyRunReport, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("controller: no strategy groups to compare")
	}

	report := &StrategyRunReport{RunID: runID, StartedAt: time.Now()}
	for _, group := range groups {
		log.Info("running strategy group", zap.String("group", group.ID))
		restore := applyEnv(group.Env)
		groupReport, err := run(ctx, group)
		restore()

		res := GroupResult{Group: group, Report: groupReport}
		if err != nil {
			log.Error("strategy group failed", zap.String("group", group.ID), zap.Error(err))
			res.Error = err.Error()
		}
		report.Groups = append(report.Groups, res)
	}
	report.Duration = time.Since(report.StartedAt)

	if err := writeStrategyReport(report, layout); err != nil {
		return report, err
	}
	return report, nil
}

// applyEnv sets the overlay and returns a restore func that puts the prior
// environment back.
func applyEnv(env map[string]string) func() {
	type prior struct {
		value string
		set   bool
	}
	saved := make(map[string]prior, len(env))
	for k, v := range env {
		old, ok := os.LookupEnv(k)
		saved[k] = prior{value: old, set: ok}
		os.Setenv(k, v)
	}
	return func() {
		for k, p := range saved {
			if p.set {
				os.Setenv(k, p.value)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func writeStrategyReport(report *StrategyRunReport, layout artifacts.Layout) error {
	stamp := report.StartedAt.UTC().Format("20060102-150405")
	base := filepath.Join(layout.ComparisonDir(), fmt.Sprintf("comparison-%s-%s", report.RunID, stamp))

	if err := artifacts.WriteJSON(base+".json", report); err != nil {
		return err
	}
	md := renderStrategyMarkdown(report, layout)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return fmt.Errorf("create comparison dir: %w", err)
	}
	if err := os.WriteFile(base+".md", []byte(md), 0o644); err != nil {
		return fmt.Errorf("write comparison markdown: %w", err)
	}
	return nil
}

func renderStrategyMarkdown(report *StrategyRunReport, layout artifacts.Layout) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Strategy comparison %s\n\n", report.RunID)
	fmt.Fprintf(&b, "Started %s, took %s.\n\n", report.StartedAt.Format(time.RFC3339), report.Duration.Round(time.Second))

	b.WriteString("| Group | Passed | Warned | Total | Pass rate | Avg duration |\n")
	b.WriteString("|-------|-------:|-------:|------:|----------:|-------------:|\n")
	for _, g := range report.Groups {
		if g.Report == nil {
			fmt.Fprintf(&b, "| %s | - | - | - | failed: %s | - |\n", g.Group.ID, g.Error)
			continue
		}
		r := g.Report
		rate := 0.0
		if r.Total > 0 {
			rate = float64(r.Passed) / float64(r.Total) * 100
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %.0f%% | %s |\n",
			g.Group.ID, r.Passed, r.Warned, r.Total, rate, r.AvgDuration().Round(time.Second))
	}

	for _, g := range report.Groups {
		if g.Report == nil {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", g.Group.ID)
		if len(g.Group.Knobs) > 0 {
			keys := make([]string, 0, len(g.Group.Knobs))
			for k := range g.Group.Knobs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "- %s: %s\n", k, g.Group.Knobs[k])
			}
			b.WriteString("\n")
		}
		b.WriteString("| Site | Stage | Passed | Score | Repairs | Diff |\n")
		b.WriteString("|------|-------|:------:|------:|--------:|------|\n")
		for _, res := range g.Report.Results {
			link := ""
			if len(res.Pages) > 0 {
				p := res.Pages[0]
				link = layout.DiffPath(res.SiteKey, p.PageSlug, p.Viewport)
			}
			verdict := fmt.Sprintf("%v", res.Passed)
			if res.Passed && res.Warning != "" {
				verdict = "warn"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %.1f | %d | %s |\n",
				res.SiteKey, res.Stage, verdict, res.Score, res.Repairs, link)
		}
	}
	return b.String()
}
