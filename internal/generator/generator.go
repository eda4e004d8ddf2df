// Package generator talks to the prompt-to-website service: it submits a
// build prompt (optionally with repair guidance from a previous comparison),
// selects which backing provider does the work, and waits for the generated
// site payload to land on disk.
package generator

import (
	"context"
	"fmt"
	"strings"

	"visualqa/internal/artifacts"
	"visualqa/internal/attribution"
)

// Request describes one generation job.
type Request struct {
	// Prompt is the site brief, built from the crawl.
	Prompt string `json:"prompt"`
	// Persist asks the service to keep the project so a later repair
	// iteration can resume it.
	Persist bool `json:"persist,omitempty"`
	// ResumeID continues a persisted project instead of starting fresh.
	ResumeID string `json:"resumeId,omitempty"`
	// RepairGuidance carries the structural divergence summary from the
	// previous iteration.
	RepairGuidance string `json:"repairGuidance,omitempty"`
}

// Response is the generation outcome.
type Response struct {
	// ResumeID identifies the persisted project, when Persist was set.
	ResumeID string
	// Payload is the generated site when the provider returns it inline.
	// Providers that write payload.json themselves leave it nil and the
	// caller waits on the file.
	Payload *artifacts.Payload
}

// Client generates one site build.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// BuildRepairGuidance turns attribution signals into the guidance block fed
// back into the next generation iteration. High severity signals lead and
// the list is capped so the prompt stays focused.
func BuildRepairGuidance(summary attribution.Summary) string {
	if len(summary.Signals) == 0 {
		return ""
	}
	ordered := make([]attribution.Signal, 0, len(summary.Signals))
	for _, sev := range []attribution.Severity{attribution.SeverityHigh, attribution.SeverityMedium, attribution.SeverityLow} {
		for _, s := range summary.Signals {
			if s.Severity == sev {
				ordered = append(ordered, s)
			}
		}
	}

	var b strings.Builder
	b.WriteString("The previous build diverged from the reference. Blocks are numbered in page order, top to bottom. Fix these, most important first:\n")
	for i, s := range ordered {
		if i >= 12 {
			fmt.Fprintf(&b, "- and %d more lower-priority divergences\n", len(ordered)-i)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", s.Severity, s.Kind, s.Detail)
	}
	return b.String()
}
