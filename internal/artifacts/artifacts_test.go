package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/tmp/out", "run-1")

	assert.Equal(t, filepath.Join("/tmp/out", "run-1"), l.RunDir())
	assert.Equal(t,
		filepath.Join("/tmp/out", "run-1", "acme", "home", "desktop", "probe.original.json"),
		l.ProbeOriginalPath("acme", "/", "desktop"))
	assert.Equal(t,
		filepath.Join("/tmp/out", "run-1", "acme", "pricing", "mobile", "probe.puck.json"),
		l.ProbeRebuildPath("acme", "/pricing", "mobile"))
	assert.Equal(t,
		filepath.Join("/tmp/out", "run-1", "acme", "docs-getting-started", "desktop", "diff.png"),
		l.DiffPath("acme", "/docs/getting-started", "desktop"))
	assert.Equal(t,
		filepath.Join("/tmp/out", "run-1", "acme", "payload.json"),
		l.PayloadPath("acme"))
	assert.Equal(t, filepath.Join("/tmp/out", "comparison"), l.ComparisonDir())
}

func TestWriteReadJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "report.json")
	in := map[string]any{"score": 91.5, "passed": true}

	require.NoError(t, WriteJSON(path, in))

	var out map[string]any
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, 91.5, out["score"])
	assert.Equal(t, true, out["passed"])

	// No stray temp file left behind.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestParsePayload(t *testing.T) {
	raw := []byte(`{
		"siteKey": "acme",
		"pages": [
			{"slug": "/", "title": "Acme", "blocks": [
				{"blockId": "hero", "blockType": "hero", "props": {"headline": "Ship faster"}},
				{"blockId": "features", "blockType": "features"}
			]},
			{"slug": "/pricing", "blocks": []}
		]
	}`)

	p, err := ParsePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "acme", p.SiteKey)
	require.Len(t, p.Pages, 2)
	assert.Equal(t, "Ship faster", p.Pages[0].Blocks[0].Props["headline"])

	home, ok := p.Page("")
	require.True(t, ok)
	assert.Equal(t, "/", home.Slug)

	pricing, ok := p.Page("/pricing")
	require.True(t, ok)
	assert.Empty(t, pricing.Blocks)

	_, ok = p.Page("/missing")
	assert.False(t, ok)
}

func TestParsePayloadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{"},
		{"no pages", `{"siteKey": "acme", "pages": []}`},
		{"missing siteKey", `{"pages": [{"slug": "/", "blocks": []}]}`},
		{"block without id", `{"siteKey": "a", "pages": [{"slug": "/", "blocks": [{"blockType": "hero"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrBadPayload)
		})
	}
}
