// Package artifacts owns the on-disk layout of a run: per-site, per-viewport
// probes, attribution reports and diff images, the generated site payload,
// and the comparison reports a strategy sweep emits.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Probe artifact file names. "original" is the reference site capture,
// "puck" is the rebuilt page served by the preview renderer.
const (
	ProbeOriginalFile = "probe.original.json"
	ProbeRebuildFile  = "probe.puck.json"
	AttributionFile   = "attribution.json"
	DiffFile          = "diff.png"
	PayloadFile       = "payload.json"
	ShotOriginalFile  = "original.png"
	ShotRebuildFile   = "puck.png"
	PlanFile          = "plan.json"
)

// Layout resolves every artifact path for one run.
type Layout struct {
	root  string
	runID string
}

// NewLayout anchors a run's artifacts under out/<runID>.
func NewLayout(out, runID string) Layout {
	return Layout{root: out, runID: runID}
}

// RunDir is the run's root directory.
func (l Layout) RunDir() string {
	return filepath.Join(l.root, l.runID)
}

// CaseDir holds everything produced for one site.
func (l Layout) CaseDir(siteKey string) string {
	return filepath.Join(l.RunDir(), siteKey)
}

// ViewportDir holds one (site, page, viewport) comparison's artifacts. The
// page slug is flattened into the directory name so nested routes stay one
// level deep.
func (l Layout) ViewportDir(siteKey, pageSlug, viewport string) string {
	if pageSlug == "" || pageSlug == "/" {
		pageSlug = "home"
	}
	return filepath.Join(l.CaseDir(siteKey), flatten(pageSlug), viewport)
}

func (l Layout) ProbeOriginalPath(siteKey, pageSlug, viewport string) string {
	return filepath.Join(l.ViewportDir(siteKey, pageSlug, viewport), ProbeOriginalFile)
}

func (l Layout) ProbeRebuildPath(siteKey, pageSlug, viewport string) string {
	return filepath.Join(l.ViewportDir(siteKey, pageSlug, viewport), ProbeRebuildFile)
}

func (l Layout) AttributionPath(siteKey, pageSlug, viewport string) string {
	return filepath.Join(l.ViewportDir(siteKey, pageSlug, viewport), AttributionFile)
}

func (l Layout) DiffPath(siteKey, pageSlug, viewport string) string {
	return filepath.Join(l.ViewportDir(siteKey, pageSlug, viewport), DiffFile)
}

func (l Layout) ShotOriginalPath(siteKey, pageSlug, viewport string) string {
	return filepath.Join(l.ViewportDir(siteKey, pageSlug, viewport), ShotOriginalFile)
}

func (l Layout) ShotRebuildPath(siteKey, pageSlug, viewport string) string {
	return filepath.Join(l.ViewportDir(siteKey, pageSlug, viewport), ShotRebuildFile)
}

// PlanPath is the crawled site plan for one case.
func (l Layout) PlanPath(siteKey string) string {
	return filepath.Join(l.CaseDir(siteKey), PlanFile)
}

// PayloadPath is the generated site payload for one case.
func (l Layout) PayloadPath(siteKey string) string {
	return filepath.Join(l.CaseDir(siteKey), PayloadFile)
}

// ComparisonDir holds strategy comparison reports, shared across runs.
func (l Layout) ComparisonDir() string {
	return filepath.Join(l.root, "comparison")
}

func flatten(slug string) string {
	out := make([]rune, 0, len(slug))
	for _, r := range slug {
		switch {
		case r == '/' || r == '\\':
			if len(out) > 0 && out[len(out)-1] != '-' {
				out = append(out, '-')
			}
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "home"
	}
	return string(out)
}

// WriteJSON marshals v with indentation and writes it atomically enough for
// single-writer use, creating parent directories.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

// WriteBytes writes a binary artifact, creating parent directories.
func WriteBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON unmarshals the artifact at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
