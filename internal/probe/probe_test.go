package probe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualqa/internal/viewport"
)

type fakePage struct {
	raw json.RawMessage
	err error
}

func (f fakePage) Evaluate(_ context.Context, _ string) (json.RawMessage, error) {
	return f.raw, f.err
}

func TestExtractDecodesBlocks(t *testing.T) {
	raw := json.RawMessage(`[
		{"blockId":"hero","blockType":"Hero.v1","bbox":{"x":0,"y":0,"w":1440,"h":620},
		 "keyElements":[{"kind":"title","bbox":{"x":120,"y":180,"w":600,"h":64}}],
		 "tokensSample":{"titleFont":"Inter","titleSize":"48px","primaryBg":"rgb(10, 10, 30)"},
		 "stats":{"images":1,"buttons":2}},
		{"blockId":"features","blockType":"FeatureGrid.v1","bbox":{"x":0,"y":620,"w":1440,"h":900},
		 "tokensSample":{},"stats":{"images":6,"buttons":0}}
	]`)

	p := New(Config{}, nil)
	res := p.Extract(context.Background(), fakePage{raw: raw}, viewport.Desktop)

	require.Len(t, res.Blocks, 2)
	assert.Equal(t, "desktop", res.Viewport)
	assert.Equal(t, "block-00", res.Blocks[0].BlockID)
	assert.Equal(t, "Hero.v1", res.Blocks[0].BlockType)
	assert.Equal(t, 620, res.Blocks[0].BBox.H)

	title, ok := res.Blocks[0].Title()
	require.True(t, ok)
	assert.Equal(t, 180, title.BBox.Y)

	_, ok = res.Blocks[1].Title()
	assert.False(t, ok)
}

// A reference page yields script-assigned ordinal ids while a rebuilt page
// yields generator-chosen marker ids. Extract must re-key both the same way
// so the pair aligns block-for-block.
func TestExtractAlignsIdsAcrossPair(t *testing.T) {
	original := json.RawMessage(`[
		{"blockId":"block-00","blockType":"hero","bbox":{"x":0,"y":0,"w":1440,"h":600},"tokensSample":{},"stats":{}},
		{"blockId":"block-01","blockType":"features","bbox":{"x":0,"y":600,"w":1440,"h":800},"tokensSample":{},"stats":{}}
	]`)
	rebuild := json.RawMessage(`[
		{"blockId":"hero","blockType":"Hero.v1","bbox":{"x":0,"y":0,"w":1440,"h":610},"tokensSample":{},"stats":{}},
		{"blockId":"feature-grid","blockType":"FeatureGrid.v1","bbox":{"x":0,"y":610,"w":1440,"h":790},"tokensSample":{},"stats":{}}
	]`)

	p := New(Config{}, nil)
	or := p.Extract(context.Background(), fakePage{raw: original}, viewport.Desktop)
	rr := p.Extract(context.Background(), fakePage{raw: rebuild}, viewport.Desktop)

	require.Len(t, or.Blocks, 2)
	require.Len(t, rr.Blocks, 2)
	for i := range or.Blocks {
		assert.Equal(t, or.Blocks[i].BlockID, rr.Blocks[i].BlockID)
	}
	assert.Equal(t, "block-00", rr.Blocks[0].BlockID)
	assert.Equal(t, "Hero.v1", rr.Blocks[0].BlockType)
}

func TestExtractOrdersBlocksByPosition(t *testing.T) {
	raw := json.RawMessage(`[
		{"blockId":"footer","blockType":"footer","bbox":{"x":0,"y":1400,"w":1440,"h":200},"tokensSample":{},"stats":{}},
		{"blockId":"hero","blockType":"hero","bbox":{"x":0,"y":0,"w":1440,"h":600},"tokensSample":{},"stats":{}},
		{"blockId":"aside","blockType":"aside","bbox":{"x":720,"y":600,"w":720,"h":800},"tokensSample":{},"stats":{}},
		{"blockId":"main","blockType":"main","bbox":{"x":0,"y":600,"w":720,"h":800},"tokensSample":{},"stats":{}}
	]`)

	p := New(Config{}, nil)
	res := p.Extract(context.Background(), fakePage{raw: raw}, viewport.Desktop)

	require.Len(t, res.Blocks, 4)
	types := make([]string, len(res.Blocks))
	ids := make([]string, len(res.Blocks))
	for i, b := range res.Blocks {
		types[i] = b.BlockType
		ids[i] = b.BlockID
	}
	assert.Equal(t, []string{"hero", "main", "aside", "footer"}, types)
	assert.Equal(t, []string{"block-00", "block-01", "block-02", "block-03"}, ids)
}

func TestExtractFailureYieldsEmptyBlocks(t *testing.T) {
	p := New(Config{}, nil)

	res := p.Extract(context.Background(), fakePage{err: errors.New("page gone")}, viewport.Mobile)
	assert.Empty(t, res.Blocks)
	assert.NotNil(t, res.Blocks)

	res = p.Extract(context.Background(), fakePage{raw: json.RawMessage(`{"not":"an array"}`)}, viewport.Mobile)
	assert.Empty(t, res.Blocks)
}

func TestParseBlocksRejectsMissingIdentity(t *testing.T) {
	_, err := ParseBlocks(json.RawMessage(`[{"blockType":"Hero.v1","bbox":{"x":0,"y":0,"w":1,"h":1}}]`))
	assert.Error(t, err)

	_, err = ParseBlocks(json.RawMessage(`[{"blockId":"hero","bbox":{"x":0,"y":0,"w":1,"h":1}}]`))
	assert.Error(t, err)
}

func TestParseBlocksEmptyArray(t *testing.T) {
	blocks, err := ParseBlocks(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.NotNil(t, blocks)
	assert.Empty(t, blocks)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, 20, c.MinHeight)
	assert.Equal(t, 100, c.MinWidth)
}
