// Package attribution explains pixel divergence in structural terms by
// aligning the block probes of the original page and its rebuild.
//
// Blocks are matched by blockId. Every divergence becomes a Signal with a
// kind and a severity; the signal list is what the repair loop feeds back to
// the generator as guidance.
package attribution

import (
	"fmt"
	"strings"

	"visualqa/internal/probe"
)

// Severity ranks how much a signal is expected to move the pixel score.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Signal kinds.
const (
	KindMissingBlock         = "missing_block"
	KindExtraBlock           = "extra_block"
	KindTypeMismatch         = "block_type_mismatch"
	KindBBoxShift            = "block_bbox_shift"
	KindTitleShift           = "block_title_shift"
	KindFontMismatch         = "block_font_mismatch"
	KindTypeScaleMismatch    = "block_type_scale_mismatch"
	KindPrimaryColorMismatch = "block_primary_color_mismatch"
	KindImagesCountDiff      = "block_images_count_diff"
	KindButtonsCountDiff     = "block_buttons_count_diff"
)

// Geometry tolerances, in CSS pixels.
const (
	posTolerance     = 20
	sizeTolerance    = 40
	posSevereShift   = 40
	titleTolerance   = 16
	titleSevereShift = 30
	countTolerance   = 2
)

// Delta is the geometric displacement carried by shift signals, rebuild
// minus original.
type Delta struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
	DW int `json:"dw"`
	DH int `json:"dh"`
}

// Signal is one attributed structural divergence. Shift kinds carry the
// measured delta alongside the human-readable detail.
type Signal struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	BlockID  string   `json:"blockId"`
	Detail   string   `json:"detail"`
	Delta    *Delta   `json:"delta,omitempty"`
}

// Summary aggregates a signal list for reports.
type Summary struct {
	Signals []Signal `json:"signals"`
	High    int      `json:"high"`
	Medium  int      `json:"medium"`
	Low     int      `json:"low"`
}

// Summarize counts signals per severity.
func Summarize(signals []Signal) Summary {
	s := Summary{Signals: signals}
	if s.Signals == nil {
		s.Signals = []Signal{}
	}
	for _, sig := range signals {
		switch sig.Severity {
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
	}
	return s
}

// Attribute compares two probes of the same viewport and returns the ordered
// signal list: original-order blocks first (missing, then field-level
// divergence on matches), then rebuild-only extras in rebuild order.
// Identical probes yield an empty, non-nil slice.
func Attribute(original, rebuild probe.Result) []Signal {
	signals := []Signal{}

	rebuilt := make(map[string]probe.Block, len(rebuild.Blocks))
	for _, b := range rebuild.Blocks {
		rebuilt[b.BlockID] = b
	}
	originalIDs := make(map[string]bool, len(original.Blocks))
	for _, b := range original.Blocks {
		originalIDs[b.BlockID] = true
	}

	for _, ob := range original.Blocks {
		rb, ok := rebuilt[ob.BlockID]
		if !ok {
			signals = append(signals, Signal{
				Kind:     KindMissingBlock,
				Severity: SeverityHigh,
				BlockID:  ob.BlockID,
				Detail:   fmt.Sprintf("block %q (%s) absent from rebuild", ob.BlockID, ob.BlockType),
			})
			continue
		}

		if ob.BlockType != rb.BlockType {
			signals = append(signals, Signal{
				Kind:     KindTypeMismatch,
				Severity: SeverityMedium,
				BlockID:  ob.BlockID,
				Detail:   fmt.Sprintf("type %q became %q", ob.BlockType, rb.BlockType),
			})
			// Same id, different type: still worth comparing the rest so
			// the repair guidance stays complete.
		}
		signals = append(signals, compareBlocks(ob, rb)...)
	}

	for _, rb := range rebuild.Blocks {
		if originalIDs[rb.BlockID] {
			continue
		}
		signals = append(signals, Signal{
			Kind:     KindExtraBlock,
			Severity: SeverityLow,
			BlockID:  rb.BlockID,
			Detail:   fmt.Sprintf("rebuild added block %q (%s)", rb.BlockID, rb.BlockType),
		})
	}

	return signals
}

func compareBlocks(ob, rb probe.Block) []Signal {
	var signals []Signal

	dx := rb.BBox.X - ob.BBox.X
	dy := rb.BBox.Y - ob.BBox.Y
	dw := rb.BBox.W - ob.BBox.W
	dh := rb.BBox.H - ob.BBox.H
	if absInt(dx) > posTolerance || absInt(dy) > posTolerance || absInt(dw) > sizeTolerance || absInt(dh) > sizeTolerance {
		sev := SeverityMedium
		if absInt(dx) > posSevereShift || absInt(dy) > posSevereShift {
			sev = SeverityHigh
		}
		signals = append(signals, Signal{
			Kind:     KindBBoxShift,
			Severity: sev,
			BlockID:  ob.BlockID,
			Detail:   fmt.Sprintf("bbox drifted dx=%d dy=%d dw=%d dh=%d", dx, dy, dw, dh),
			Delta:    &Delta{DX: dx, DY: dy, DW: dw, DH: dh},
		})
	}

	ot, haveOT := ob.Title()
	rt, haveRT := rb.Title()
	if haveOT && haveRT {
		tdx := rt.BBox.X - ot.BBox.X
		tdy := rt.BBox.Y - ot.BBox.Y
		if absInt(tdx) > titleTolerance || absInt(tdy) > titleTolerance {
			sev := SeverityMedium
			if absInt(tdx) > titleSevereShift || absInt(tdy) > titleSevereShift {
				sev = SeverityHigh
			}
			signals = append(signals, Signal{
				Kind:     KindTitleShift,
				Severity: sev,
				BlockID:  ob.BlockID,
				Detail:   fmt.Sprintf("title moved dx=%d dy=%d", tdx, tdy),
				Delta:    &Delta{DX: tdx, DY: tdy},
			})
		}
	}

	if of, rf := normalizeFont(ob.Tokens.TitleFont), normalizeFont(rb.Tokens.TitleFont); of != "" && rf != "" && of != rf {
		signals = append(signals, Signal{
			Kind:     KindFontMismatch,
			Severity: SeverityMedium,
			BlockID:  ob.BlockID,
			Detail:   fmt.Sprintf("title font %q became %q", ob.Tokens.TitleFont, rb.Tokens.TitleFont),
		})
	}
	if ob.Tokens.TitleSize != "" && rb.Tokens.TitleSize != "" && ob.Tokens.TitleSize != rb.Tokens.TitleSize {
		signals = append(signals, Signal{
			Kind:     KindTypeScaleMismatch,
			Severity: SeverityMedium,
			BlockID:  ob.BlockID,
			Detail:   fmt.Sprintf("title size %s became %s", ob.Tokens.TitleSize, rb.Tokens.TitleSize),
		})
	}
	if ob.Tokens.PrimaryBg != "" && rb.Tokens.PrimaryBg != "" && ob.Tokens.PrimaryBg != rb.Tokens.PrimaryBg {
		signals = append(signals, Signal{
			Kind:     KindPrimaryColorMismatch,
			Severity: SeverityMedium,
			BlockID:  ob.BlockID,
			Detail:   fmt.Sprintf("background %s became %s", ob.Tokens.PrimaryBg, rb.Tokens.PrimaryBg),
		})
	}

	if d := rb.Stats.Images - ob.Stats.Images; absInt(d) >= countTolerance {
		signals = append(signals, Signal{
			Kind:     KindImagesCountDiff,
			Severity: SeverityMedium,
			BlockID:  ob.BlockID,
			Detail:   fmt.Sprintf("image count %d became %d", ob.Stats.Images, rb.Stats.Images),
		})
	}
	if d := rb.Stats.Buttons - ob.Stats.Buttons; absInt(d) >= countTolerance {
		signals = append(signals, Signal{
			Kind:     KindButtonsCountDiff,
			Severity: SeverityLow,
			BlockID:  ob.BlockID,
			Detail:   fmt.Sprintf("button count %d became %d", ob.Stats.Buttons, rb.Stats.Buttons),
		})
	}

	return signals
}

// normalizeFont folds case and whitespace so font stacks that differ only in
// formatting ("Inter, sans-serif" vs "inter,sans-serif") compare equal.
func normalizeFont(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
