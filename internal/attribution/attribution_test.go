package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualqa/internal/probe"
)

func block(id, typ string, x, y, w, h int) probe.Block {
	return probe.Block{
		BlockID:   id,
		BlockType: typ,
		BBox:      probe.BBox{X: x, Y: y, W: w, H: h},
	}
}

func result(blocks ...probe.Block) probe.Result {
	return probe.Result{Viewport: "desktop", Blocks: blocks}
}

func kinds(signals []Signal) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = s.Kind
	}
	return out
}

func TestIdenticalProbesProduceNoSignals(t *testing.T) {
	r := result(
		block("hero", "hero", 0, 0, 1440, 600),
		block("features", "features", 0, 600, 1440, 800),
	)

	signals := Attribute(r, r)
	require.NotNil(t, signals)
	assert.Empty(t, signals)
}

func TestMissingAndExtraAreAsymmetric(t *testing.T) {
	left := result(block("a", "hero", 0, 0, 100, 100), block("b", "features", 0, 100, 100, 100))
	right := result(block("b", "features", 0, 100, 100, 100), block("c", "footer", 0, 200, 100, 100))

	forward := Attribute(left, right)
	require.Len(t, forward, 2)
	assert.Equal(t, KindMissingBlock, forward[0].Kind)
	assert.Equal(t, "a", forward[0].BlockID)
	assert.Equal(t, SeverityHigh, forward[0].Severity)
	assert.Equal(t, KindExtraBlock, forward[1].Kind)
	assert.Equal(t, "c", forward[1].BlockID)
	assert.Equal(t, SeverityLow, forward[1].Severity)

	backward := Attribute(right, left)
	require.Len(t, backward, 2)
	assert.Equal(t, KindMissingBlock, backward[0].Kind)
	assert.Equal(t, "c", backward[0].BlockID)
	assert.Equal(t, KindExtraBlock, backward[1].Kind)
	assert.Equal(t, "a", backward[1].BlockID)
}

func TestBBoxShiftSeverityBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		dx       int
		want     []string
		severity Severity
	}{
		{name: "within tolerance", dx: 20, want: []string{}},
		{name: "past tolerance is medium", dx: 25, want: []string{KindBBoxShift}, severity: SeverityMedium},
		{name: "past severe shift is high", dx: 45, want: []string{KindBBoxShift}, severity: SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := result(block("hero", "hero", 100, 0, 800, 400))
			rebuild := result(block("hero", "hero", 100+tt.dx, 0, 800, 400))

			signals := Attribute(original, rebuild)
			assert.Equal(t, tt.want, kinds(signals))
			if len(tt.want) > 0 {
				assert.Equal(t, tt.severity, signals[0].Severity)
				require.NotNil(t, signals[0].Delta)
				assert.Equal(t, tt.dx, signals[0].Delta.DX)
				assert.Equal(t, 0, signals[0].Delta.DY)
			}
		})
	}
}

func TestHeightDriftAloneStaysMedium(t *testing.T) {
	original := result(block("hero", "hero", 0, 0, 800, 400))
	rebuild := result(block("hero", "hero", 0, 0, 800, 500))

	signals := Attribute(original, rebuild)
	require.Len(t, signals, 1)
	assert.Equal(t, KindBBoxShift, signals[0].Kind)
	assert.Equal(t, SeverityMedium, signals[0].Severity)
}

func TestTypeMismatchStillComparesGeometry(t *testing.T) {
	original := result(block("hero", "hero", 0, 0, 800, 400))
	rebuild := result(block("hero", "banner", 0, 90, 800, 400))

	signals := Attribute(original, rebuild)
	assert.Equal(t, []string{KindTypeMismatch, KindBBoxShift}, kinds(signals))
	assert.Equal(t, SeverityMedium, signals[0].Severity)
	assert.Equal(t, SeverityHigh, signals[1].Severity)
}

func TestTitleShiftBoundaries(t *testing.T) {
	withTitle := func(x, y int) probe.Block {
		b := block("hero", "hero", 0, 0, 800, 400)
		b.Key = []probe.KeyElement{{Kind: "title", BBox: probe.BBox{X: x, Y: y, W: 400, H: 48}}}
		return b
	}

	// 16px is tolerated on either axis.
	signals := Attribute(result(withTitle(40, 60)), result(withTitle(40, 76)))
	assert.Empty(t, signals)
	signals = Attribute(result(withTitle(40, 60)), result(withTitle(56, 60)))
	assert.Empty(t, signals)

	// 20px vertically is a medium shift.
	signals = Attribute(result(withTitle(40, 60)), result(withTitle(40, 80)))
	require.Len(t, signals, 1)
	assert.Equal(t, KindTitleShift, signals[0].Kind)
	assert.Equal(t, SeverityMedium, signals[0].Severity)

	// 40px vertically is high.
	signals = Attribute(result(withTitle(40, 60)), result(withTitle(40, 100)))
	require.Len(t, signals, 1)
	assert.Equal(t, SeverityHigh, signals[0].Severity)

	// A purely horizontal move counts the same way: 50px to the right with
	// no vertical change is a high shift with the delta on the X axis.
	signals = Attribute(result(withTitle(40, 60)), result(withTitle(90, 60)))
	require.Len(t, signals, 1)
	assert.Equal(t, KindTitleShift, signals[0].Kind)
	assert.Equal(t, SeverityHigh, signals[0].Severity)
	require.NotNil(t, signals[0].Delta)
	assert.Equal(t, 50, signals[0].Delta.DX)
	assert.Equal(t, 0, signals[0].Delta.DY)

	// 20px on both axes stays medium.
	signals = Attribute(result(withTitle(40, 60)), result(withTitle(60, 80)))
	require.Len(t, signals, 1)
	assert.Equal(t, SeverityMedium, signals[0].Severity)
}

func TestTokenDiffsAreMedium(t *testing.T) {
	ob := block("hero", "hero", 0, 0, 800, 400)
	ob.Tokens = probe.TokensSample{TitleFont: "Inter", TitleSize: "48px", PrimaryBg: "rgb(255, 255, 255)"}
	rb := ob
	rb.Tokens = probe.TokensSample{TitleFont: "Georgia", TitleSize: "32px", PrimaryBg: "rgb(10, 10, 10)"}

	signals := Attribute(result(ob), result(rb))
	assert.Equal(t, []string{KindFontMismatch, KindTypeScaleMismatch, KindPrimaryColorMismatch}, kinds(signals))
	for _, s := range signals {
		assert.Equal(t, SeverityMedium, s.Severity)
	}
}

func TestFontCompareIgnoresCaseAndSpacing(t *testing.T) {
	ob := block("hero", "hero", 0, 0, 800, 400)
	ob.Tokens = probe.TokensSample{TitleFont: "Inter, sans-serif"}
	rb := block("hero", "hero", 0, 0, 800, 400)
	rb.Tokens = probe.TokensSample{TitleFont: "inter,sans-serif"}

	assert.Empty(t, Attribute(result(ob), result(rb)))

	rb.Tokens.TitleFont = "Georgia, serif"
	signals := Attribute(result(ob), result(rb))
	require.Len(t, signals, 1)
	assert.Equal(t, KindFontMismatch, signals[0].Kind)
}

func TestMissingTokensAreNotCompared(t *testing.T) {
	ob := block("hero", "hero", 0, 0, 800, 400)
	ob.Tokens = probe.TokensSample{TitleFont: "Inter"}
	rb := block("hero", "hero", 0, 0, 800, 400)

	assert.Empty(t, Attribute(result(ob), result(rb)))
}

func TestCountDiffs(t *testing.T) {
	ob := block("gallery", "gallery", 0, 0, 800, 400)
	ob.Stats = probe.Stats{Images: 6, Buttons: 2}

	// Off by one is noise.
	near := ob
	near.Stats = probe.Stats{Images: 5, Buttons: 3}
	assert.Empty(t, Attribute(result(ob), result(near)))

	far := ob
	far.Stats = probe.Stats{Images: 2, Buttons: 0}
	signals := Attribute(result(ob), result(far))
	assert.Equal(t, []string{KindImagesCountDiff, KindButtonsCountDiff}, kinds(signals))
	assert.Equal(t, SeverityMedium, signals[0].Severity)
	assert.Equal(t, SeverityLow, signals[1].Severity)
}

func TestSignalOrderFollowsOriginal(t *testing.T) {
	original := result(
		block("a", "hero", 0, 0, 100, 100),
		block("b", "features", 0, 200, 100, 100),
	)
	rebuild := result(
		block("b", "features", 0, 300, 100, 100),
		block("z", "footer", 0, 400, 100, 100),
	)

	signals := Attribute(original, rebuild)
	assert.Equal(t, []string{KindMissingBlock, KindBBoxShift, KindExtraBlock}, kinds(signals))
	assert.Equal(t, []string{"a", "b", "z"}, []string{signals[0].BlockID, signals[1].BlockID, signals[2].BlockID})
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Signal{
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityMedium},
		{Severity: SeverityLow},
	})
	assert.Equal(t, 1, s.High)
	assert.Equal(t, 2, s.Medium)
	assert.Equal(t, 1, s.Low)

	empty := Summarize(nil)
	assert.NotNil(t, empty.Signals)
}
