// Package pixeldiff quantifies visual divergence between two screenshots of
// the same logical page.
//
// Both images are padded (never scaled) onto a shared white canvas sized to
// the larger of each dimension, then compared pixel-by-pixel with a
// perceptual YIQ color distance. Differing pixels are painted red over a
// faded copy of the original in the diff artifact.
package pixeldiff

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// ErrUndecodable marks a screenshot that could not be decoded. Callers must
// fail the capture stage on it rather than report a zero diff.
var ErrUndecodable = errors.New("pixeldiff: undecodable image")

// Options tunes the comparison.
type Options struct {
	// Threshold is the perceptual sensitivity on a 0-1 scale. Lower is
	// stricter. Default 0.1.
	Threshold float64
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 0.1
	}
	return o
}

// Result is the outcome of one comparison, keyed by (site, viewport) by the
// caller. Immutable once produced.
type Result struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Mismatch        int     `json:"mismatch"`
	MismatchPercent float64 `json:"mismatchPercent"`
	DiffPath        string  `json:"diffArtifactPath,omitempty"`
}

// Similarity returns 0-100 pixel similarity.
func (r Result) Similarity() float64 {
	return (1 - r.MismatchPercent) * 100
}

// Compare diffs two decoded screenshots and returns the result plus the
// highlight image. A nil input image is a structural failure.
func Compare(a, b image.Image, opts Options) (Result, *image.RGBA, error) {
	if a == nil || b == nil {
		return Result{}, nil, fmt.Errorf("%w: nil input", ErrUndecodable)
	}
	opts = opts.withDefaults()

	w := max(a.Bounds().Dx(), b.Bounds().Dx())
	h := max(a.Bounds().Dy(), b.Bounds().Dy())

	res := Result{Width: w, Height: h}
	if w*h == 0 {
		return res, image.NewRGBA(image.Rect(0, 0, 0, 0)), nil
	}

	ca := padToCanvas(a, w, h)
	cb := padToCanvas(b, w, h)

	diff := image.NewRGBA(image.Rect(0, 0, w, h))
	// Same scale as the reference pixelmatch implementation: the maximum
	// possible YIQ delta is ~35215.
	maxDelta := 35215 * opts.Threshold * opts.Threshold

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pa := ca.RGBAAt(x, y)
			pb := cb.RGBAAt(x, y)
			if colorDelta(pa, pb) > maxDelta {
				res.Mismatch++
				diff.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			} else {
				diff.SetRGBA(x, y, faded(pa))
			}
		}
	}

	res.MismatchPercent = float64(res.Mismatch) / float64(w*h)
	return res, diff, nil
}

// padToCanvas blits src at the origin of a white w x h canvas, no scaling.
func padToCanvas(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	white := image.NewUniform(color.White)
	xdraw.Draw(dst, dst.Bounds(), white, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, src.Bounds().Sub(src.Bounds().Min), src, src.Bounds().Min, xdraw.Over)
	return dst
}

// colorDelta is the squared YIQ-weighted distance between two pixels.
func colorDelta(a, b color.RGBA) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)

	dy := dr*0.29889531 + dg*0.58662247 + db*0.11448223
	di := dr*0.59597799 - dg*0.27417610 - db*0.32180189
	dq := dr*0.21147017 - dg*0.52261711 + db*0.31114694

	return 0.5053*dy*dy + 0.299*di*di + 0.1957*dq*dq
}

// faded renders an unchanged pixel as a washed-out gray for the artifact.
func faded(p color.RGBA) color.RGBA {
	// Luma, pushed toward white.
	l := uint8((float64(p.R)*0.299 + float64(p.G)*0.587 + float64(p.B)*0.114) / 255 * 80)
	v := 255 - l
	return color.RGBA{R: v, G: v, B: v, A: 255}
}
