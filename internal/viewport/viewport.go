// Package viewport defines the capture viewports the pipeline compares across.
// Every probe, screenshot, and attribution report is keyed by one of these.
package viewport

import "fmt"

// Viewport labels.
const (
	LabelDesktop = "desktop"
	LabelMobile  = "mobile"
)

// Viewport is a named capture size.
type Viewport struct {
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var (
	// Desktop is the primary comparison viewport.
	Desktop = Viewport{Label: LabelDesktop, Width: 1440, Height: 900}
	// Mobile is the secondary comparison viewport.
	Mobile = Viewport{Label: LabelMobile, Width: 390, Height: 844}
)

// All returns the viewports a regression run captures, in fixed order.
func All() []Viewport {
	return []Viewport{Desktop, Mobile}
}

// Parse resolves a viewport label.
func Parse(label string) (Viewport, error) {
	switch label {
	case LabelDesktop:
		return Desktop, nil
	case LabelMobile:
		return Mobile, nil
	}
	return Viewport{}, fmt.Errorf("unknown viewport %q", label)
}
