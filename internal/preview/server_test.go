package preview

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"visualqa/internal/artifacts"
)

func sourceFor(p *artifacts.Payload) PayloadSource {
	return func(siteKey string) (*artifacts.Payload, error) {
		if p == nil || p.SiteKey != siteKey {
			return nil, fmt.Errorf("no payload for %s", siteKey)
		}
		return p, nil
	}
}

func acmePayload() *artifacts.Payload {
	return &artifacts.Payload{
		SiteKey: "acme",
		Pages: []artifacts.PayloadPage{
			{
				Slug:  "/",
				Title: "Acme",
				Blocks: []artifacts.PayloadBlock{
					{
						BlockID:   "hero",
						BlockType: "hero",
						Props: map[string]any{
							"headline": "Ship faster",
							"text":     "The logistics platform.",
							"buttons":  []any{"Get started", "Book a demo"},
						},
					},
					{BlockID: "features", BlockType: "features"},
				},
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewServer(0, sourceFor(nil), zap.NewNop()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRenderEmitsBlockMarkers(t *testing.T) {
	srv := httptest.NewServer(NewServer(0, sourceFor(acmePayload()), zap.NewNop()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/render?siteKey=acme&page=/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	html := string(body)

	assert.Contains(t, html, `data-block-id="hero"`)
	assert.Contains(t, html, `data-block-type="hero"`)
	assert.Contains(t, html, `data-block-id="features"`)
	assert.Contains(t, html, `<h2 data-role="title">Ship faster</h2>`)
	assert.Contains(t, html, `<button>Get started</button>`)
	assert.Contains(t, html, `data-site-key="acme"`)
}

func TestRenderErrors(t *testing.T) {
	srv := httptest.NewServer(NewServer(0, sourceFor(acmePayload()), zap.NewNop()).Router())
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/render", http.StatusBadRequest},
		{"/render?siteKey=unknown&page=/", http.StatusNotFound},
		{"/render?siteKey=acme&page=/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.want, resp.StatusCode, tt.path)
	}
}

func TestPayloadEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewServer(0, sourceFor(acmePayload()), zap.NewNop()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/payload.json?siteKey=acme")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"siteKey":"acme"`)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestManagerSwapTakesOverPort(t *testing.T) {
	port := freePort(t)
	m := NewManager(port, zap.NewNop())
	ctx := context.Background()
	defer m.Close(ctx)

	first, err := m.Swap(ctx, sourceFor(acmePayload()))
	require.NoError(t, err)

	resp, err := http.Get(first.RenderURL("acme", "/"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "Ship faster")

	other := acmePayload()
	other.SiteKey = "bistro"
	other.Pages[0].Blocks[0].Props["headline"] = "Fresh pasta daily"

	second, err := m.Swap(ctx, sourceFor(other))
	require.NoError(t, err)
	assert.Equal(t, first.URL(), second.URL())

	resp, err = http.Get(second.RenderURL("bistro", "/"))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "Fresh pasta daily")

	// The old configuration is gone along with its server.
	resp, err = http.Get(second.RenderURL("acme", "/"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManagerCloseFreesPort(t *testing.T) {
	port := freePort(t)
	m := NewManager(port, zap.NewNop())
	ctx := context.Background()

	_, err := m.Swap(ctx, sourceFor(acmePayload()))
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx))

	// Port becomes dialable-refused shortly after shutdown.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err != nil {
			break
		}
		conn.Close()
		if time.Now().After(deadline) {
			t.Fatal("port still accepting after Close")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
