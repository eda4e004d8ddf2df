package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The stabilization scripts are contracts with the capture stage; these
// tests pin the parts that comparisons depend on.

func TestFreezeCSSCoversOverlayFamilies(t *testing.T) {
	for _, family := range []string{"cookie", "consent", "gdpr", "onetrust", "intercom", "drift", "chat"} {
		assert.Contains(t, freezeCSS, family, "overlay family %q must be hidden", family)
	}
	assert.Contains(t, freezeCSS, "animation: none !important")
	assert.Contains(t, freezeCSS, "transition: none !important")
}

func TestHideMediaCSSTargetsVideoAndIframe(t *testing.T) {
	assert.Contains(t, hideMediaCSS, "video")
	assert.Contains(t, hideMediaCSS, "iframe")
}

func TestAutoScrollContract(t *testing.T) {
	// Step size, round cap, and stability window are what make two captures
	// of the same page land on the same final height.
	assert.Contains(t, autoScrollJS, "Math.max(300, Math.floor(window.innerHeight * 0.7))")
	assert.Contains(t, autoScrollJS, "round < 6")
	assert.Contains(t, autoScrollJS, "stableRounds >= 2")
	assert.Contains(t, autoScrollJS, "window.scrollTo(0, 0)")
}

func TestConsentPatternMatchesLocalizedLabels(t *testing.T) {
	for _, label := range []string{"accept all", "agree", "同意", "接受"} {
		assert.True(t, strings.Contains(dismissConsentJS, label), "consent pattern must match %q", label)
	}
}
