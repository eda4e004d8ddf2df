// Package probe extracts a structural fingerprint from a rendered,
// stabilized page: an ordered list of blocks with bounding boxes, key
// elements, sampled style tokens, and element-count stats.
//
// Extraction is a single JS evaluation against the live page; the result is
// deterministic given a stabilized DOM. Extraction failures surface as an
// empty block list, never as an error — downstream attribution treats an
// empty probe as "no blocks found".
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"visualqa/internal/viewport"
)

// BBox is a bounding box in page coordinates (scroll offsets included).
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// KeyElement is a notable sub-element of a block, currently only the title.
type KeyElement struct {
	Kind string `json:"kind"`
	BBox BBox   `json:"bbox"`
}

// TokensSample holds the handful of style tokens the probe samples per block.
type TokensSample struct {
	TitleFont string `json:"titleFont,omitempty"`
	TitleSize string `json:"titleSize,omitempty"`
	PrimaryBg string `json:"primaryBg,omitempty"`
}

// Stats holds child-element counts for a block.
type Stats struct {
	Images  int `json:"images"`
	Buttons int `json:"buttons"`
}

// Block is one structurally identified section of a page. BlockID is
// ordinal: Extract assigns ids in discovery order (top-to-bottom,
// left-to-right) on both sides of an original/rebuild pair, so attribution
// aligns the blocks occupying the same slot. Reference pages carry no
// markers and rebuilds carry generator-chosen ones; neither would ever line
// up across a pair.
type Block struct {
	BlockID   string       `json:"blockId"`
	BlockType string       `json:"blockType"`
	BBox      BBox         `json:"bbox"`
	Key       []KeyElement `json:"keyElements,omitempty"`
	Tokens    TokensSample `json:"tokensSample"`
	Stats     Stats        `json:"stats"`
}

// Title returns the block's title key element, if sampled.
func (b Block) Title() (KeyElement, bool) {
	for _, k := range b.Key {
		if k.Kind == "title" {
			return k, true
		}
	}
	return KeyElement{}, false
}

// Result is the fingerprint of one (page, viewport) capture. Blocks are
// ordered by visual discovery order: top-to-bottom, left-to-right.
type Result struct {
	Viewport string  `json:"viewport"`
	Blocks   []Block `json:"blocks"`
}

// Evaluator runs a JS function on the live page and returns its JSON value.
// *browser.RodPage satisfies this.
type Evaluator interface {
	Evaluate(ctx context.Context, js string) (json.RawMessage, error)
}

// Config tunes block discovery.
type Config struct {
	MinHeight int // default 20
	MinWidth  int // default 100
}

func (c Config) withDefaults() Config {
	if c.MinHeight <= 0 {
		c.MinHeight = 20
	}
	if c.MinWidth <= 0 {
		c.MinWidth = 100
	}
	return c
}

// Prober extracts Results from live pages.
type Prober struct {
	cfg Config
	log *zap.Logger
}

// New creates a Prober.
func New(cfg Config, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{cfg: cfg.withDefaults(), log: log}
}

// Extract fingerprints the page for the given viewport. Never returns an
// error for extraction problems: a page the script cannot understand yields
// an empty block list.
func (p *Prober) Extract(ctx context.Context, page Evaluator, vp viewport.Viewport) Result {
	res := Result{Viewport: vp.Label, Blocks: []Block{}}

	raw, err := page.Evaluate(ctx, fmt.Sprintf(extractJS, p.cfg.MinHeight, p.cfg.MinWidth))
	if err != nil {
		p.log.Warn("probe extraction failed", zap.String("viewport", vp.Label), zap.Error(err))
		return res
	}

	blocks, err := ParseBlocks(raw)
	if err != nil {
		p.log.Warn("probe payload unparseable", zap.String("viewport", vp.Label), zap.Error(err))
		return res
	}
	res.Blocks = assignOrdinalIDs(blocks)
	return res
}

// assignOrdinalIDs re-keys blocks by discovery order. The extraction script
// already sorts by position; sorting again here keeps the guarantee even for
// evaluators that return blocks unordered.
func assignOrdinalIDs(blocks []Block) []Block {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].BBox.Y != blocks[j].BBox.Y {
			return blocks[i].BBox.Y < blocks[j].BBox.Y
		}
		return blocks[i].BBox.X < blocks[j].BBox.X
	})
	for i := range blocks {
		blocks[i].BlockID = fmt.Sprintf("block-%02d", i)
	}
	return blocks
}

// ParseBlocks decodes and validates the raw block array emitted by the
// extraction script. Blocks missing identity fields are rejected, not
// coerced: an id-less block would poison attribution matching.
func ParseBlocks(raw json.RawMessage) ([]Block, error) {
	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	for i, b := range blocks {
		if strings.TrimSpace(b.BlockID) == "" {
			return nil, fmt.Errorf("block %d missing blockId", i)
		}
		if strings.TrimSpace(b.BlockType) == "" {
			return nil, fmt.Errorf("block %d (%s) missing blockType", i, b.BlockID)
		}
	}
	if blocks == nil {
		blocks = []Block{}
	}
	return blocks, nil
}

// extractJS discovers blocks in priority order: explicit [data-block-id]
// markers, then semantic sections with an identity attribute, then direct
// children of main/root filtered to a minimum size. Ids are ordinal,
// assigned after the positional sort; marker attributes select elements but
// never name blocks. Bounding boxes are page coordinates (client rect +
// scroll offset). The two %d verbs are the minimum height and width filters.
const extractJS = `
() => {
  const MIN_H = %d;
  const MIN_W = %d;

  const pageBox = (el) => {
    const r = el.getBoundingClientRect();
    return {
      x: Math.round(r.x + window.scrollX),
      y: Math.round(r.y + window.scrollY),
      w: Math.round(r.width),
      h: Math.round(r.height),
    };
  };

  const discover = () => {
    let els = Array.from(document.querySelectorAll('[data-block-id]'));
    if (els.length) return els;

    els = Array.from(document.querySelectorAll('main section[id], section[data-section], [data-section]'));
    if (els.length) return els;

    const root = document.querySelector('main') || document.getElementById('root') || document.body;
    return Array.from(root.children).filter((el) => {
      const tag = el.tagName.toLowerCase();
      if (tag === 'script' || tag === 'style' || tag === 'link') return false;
      const r = el.getBoundingClientRect();
      return r.height > MIN_H && r.width > MIN_W;
    });
  };

  const blockType = (el) => {
    const explicit = el.getAttribute('data-block-type');
    if (explicit) return explicit;
    if (el.id) return el.id;
    const cls = (el.className && typeof el.className === 'string') ? el.className.split(/\s+/)[0] : '';
    return cls || el.tagName.toLowerCase();
  };

  const blocks = discover().map((el) => {
    const key = [];
    const title = el.querySelector('h1, h2, h3, [data-role="title"]');
    let tokens = {};
    if (title) {
      key.push({ kind: 'title', bbox: pageBox(title) });
      const ts = window.getComputedStyle(title);
      tokens.titleFont = ts.fontFamily || '';
      tokens.titleSize = ts.fontSize || '';
    }
    const es = window.getComputedStyle(el);
    if (es.backgroundColor && es.backgroundColor !== 'rgba(0, 0, 0, 0)') {
      tokens.primaryBg = es.backgroundColor;
    }

    return {
      blockType: blockType(el),
      bbox: pageBox(el),
      keyElements: key,
      tokensSample: tokens,
      stats: {
        images: el.querySelectorAll('img').length,
        buttons: el.querySelectorAll('button, a[role="button"], [class*="button"], [class*="btn"]').length,
      },
    };
  });

  blocks.sort((a, b) => (a.bbox.y - b.bbox.y) || (a.bbox.x - b.bbox.x));
  blocks.forEach((b, i) => { b.blockId = 'block-' + String(i).padStart(2, '0'); });
  return blocks;
}
`
