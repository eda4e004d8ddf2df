package browser

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Stabilization makes captures repeatable: animations and transitions are
// frozen, consent/chat overlays are dismissed and hidden, web fonts are
// awaited, and the page is scrolled end to end so lazy content is forced in
// before the screenshot. Every step is best-effort; a page that resists a
// step is still captured.

// freezeCSS kills motion and hides the overlay noise that differs between
// two captures of the same page.
const freezeCSS = `
* {
  animation: none !important;
  transition: none !important;
  scroll-behavior: auto !important;
  caret-color: transparent !important;
}
[id*="cookie"], [class*="cookie"], [class*="Cookie"],
[id*="consent"], [class*="consent"], [class*="Consent"],
[id*="gdpr"], [class*="gdpr"], [class*="GDPR"],
[id*="onetrust"], [class*="onetrust"],
[id*="intercom"], [class*="intercom"],
[id*="drift"], [class*="drift"],
[id*="chat"], [class*="chat"] { display: none !important; }
`

const hideMediaCSS = `video, iframe { visibility: hidden !important; }`

const injectCSSJS = `
(css) => {
  const style = document.createElement('style');
  style.textContent = css;
  document.head.appendChild(style);
  return true;
}
`

// dismissConsentJS clicks the first button-like element whose text matches
// the accept pattern, on the document and then inside same-origin frames.
const dismissConsentJS = `
() => {
  const re = /accept all|accept|agree|allow|consent|同意|接受|允许|继续/i;
  const clickIn = (doc) => {
    const buttons = Array.from(doc.querySelectorAll("button, [role='button'], a"));
    for (const el of buttons) {
      const text = (el.textContent || "").trim();
      if (re.test(text)) {
        el.click();
        return true;
      }
    }
    return false;
  };
  if (clickIn(document)) return true;
  for (const frame of Array.from(window.frames)) {
    try {
      if (frame.document && clickIn(frame.document)) return true;
    } catch (e) {
      // cross-origin frame
    }
  }
  return false;
}
`

const fontsReadyJS = `
async () => {
  if (document.fonts && document.fonts.ready) {
    await document.fonts.ready;
  }
  return true;
}
`

// autoScrollJS walks the page in steps of max(300, 70% of the viewport),
// repeating until the document height is stable for two rounds (at most
// six), then waits for images and returns to the top.
const autoScrollJS = `
async () => {
  const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
  const step = Math.max(300, Math.floor(window.innerHeight * 0.7));
  let lastHeight = 0;
  let stableRounds = 0;

  for (let round = 0; round < 6; round++) {
    const total = document.body.scrollHeight;
    for (let y = 0; y < total; y += step) {
      window.scrollTo(0, y);
      await sleep(220);
    }
    window.scrollTo(0, document.body.scrollHeight);
    await sleep(600);

    const newHeight = document.body.scrollHeight;
    if (newHeight === lastHeight) {
      stableRounds += 1;
    } else {
      stableRounds = 0;
    }
    lastHeight = newHeight;
    if (stableRounds >= 2) break;
  }

  const images = Array.from(document.images || []);
  if (images.length) {
    await Promise.race([
      Promise.all(
        images.map((img) =>
          img.complete ? Promise.resolve() : new Promise((r) => img.addEventListener("load", r, { once: true }))
        )
      ),
      sleep(1500),
    ]);
  } else {
    await sleep(300);
  }
  window.scrollTo(0, 0);
  return true;
}
`

// StabilizeOptions tunes the pass.
type StabilizeOptions struct {
	// KeepMedia leaves video and iframe content visible. Off by default:
	// playing media is the main source of capture flake.
	KeepMedia bool
	// Settle is the final quiet period before the screenshot.
	Settle time.Duration
}

// Stabilize runs the full pass on a page that has finished loading.
func (p *Page) Stabilize(ctx context.Context, opts StabilizeOptions) {
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}

	if _, err := p.Evaluate(ctx, dismissConsentJS); err != nil {
		p.log.Debug("consent dismissal failed", zap.Error(err))
	}

	css := freezeCSS
	if !opts.KeepMedia {
		css += hideMediaCSS
	}
	if err := p.injectCSS(ctx, css); err != nil {
		p.log.Debug("freeze css injection failed", zap.Error(err))
	}

	if _, err := p.Evaluate(ctx, fontsReadyJS); err != nil {
		p.log.Debug("fonts wait failed", zap.Error(err))
	}
	if _, err := p.Evaluate(ctx, autoScrollJS); err != nil {
		p.log.Debug("auto scroll failed", zap.Error(err))
	}

	select {
	case <-ctx.Done():
	case <-time.After(opts.Settle):
	}
}

func (p *Page) injectCSS(ctx context.Context, css string) error {
	_, err := p.page.Context(ctx).Eval(injectCSSJS, css)
	return err
}
