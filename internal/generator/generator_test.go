package generator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"visualqa/internal/attribution"
)

func TestSelectPicksFirstCredentialed(t *testing.T) {
	reg := Registry{
		{Name: "service", Credential: ""},
		{Name: "gemini", Credential: "key-b"},
		{Name: "fallback", Credential: "key-c"},
	}

	p, ok := Select(reg)
	require.True(t, ok)
	assert.Equal(t, "gemini", p.Name)

	// Selection is pure: same input, same answer, no mutation.
	again, ok := Select(reg)
	require.True(t, ok)
	assert.Equal(t, p.Name, again.Name)
	assert.Equal(t, "", reg[0].Credential)
}

func TestSelectEmptyRegistry(t *testing.T) {
	_, ok := Select(Registry{})
	assert.False(t, ok)

	_, ok = Select(Registry{{Name: "a"}, {Name: "b"}})
	assert.False(t, ok)
}

func TestHTTPClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `{"resumeId": "proj-42"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok")
	resp, err := c.Generate(context.Background(), Request{Prompt: "build it", Persist: true})
	require.NoError(t, err)
	assert.Equal(t, "proj-42", resp.ResumeID)
	assert.Nil(t, resp.Payload)
}

func TestHTTPClientGenerateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream model unavailable\nsecond line")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream model unavailable")
	assert.NotContains(t, err.Error(), "second line")
}

func TestHTTPClientServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "prompt rejected"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt rejected")
}

const validPayload = `{"siteKey": "acme", "pages": [{"slug": "/", "blocks": [{"blockId": "hero", "blockType": "hero"}]}]}`

func TestWaitForPayloadAlreadyPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(validPayload), 0o644))

	p, err := WaitForPayload(context.Background(), path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "acme", p.SiteKey)
}

func TestWaitForPayloadAppearsLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")

	go func() {
		time.Sleep(150 * time.Millisecond)
		// Write-then-rename, the way real services land the file.
		tmp := path + ".partial"
		_ = os.WriteFile(tmp, []byte(validPayload), 0o644)
		_ = os.Rename(tmp, path)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := WaitForPayload(ctx, path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "acme", p.SiteKey)
}

func TestWaitForPayloadTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := WaitForPayload(ctx, filepath.Join(t.TempDir(), "payload.json"), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildRepairGuidance(t *testing.T) {
	summary := attribution.Summarize([]attribution.Signal{
		{Kind: "extra_block", Severity: attribution.SeverityLow, Detail: "rebuild added block \"promo\""},
		{Kind: "missing_block", Severity: attribution.SeverityHigh, Detail: "block \"hero\" absent from rebuild"},
		{Kind: "block_bbox_shift", Severity: attribution.SeverityMedium, Detail: "bbox drifted dx=30"},
	})

	guidance := BuildRepairGuidance(summary)
	lines := strings.Split(strings.TrimSpace(guidance), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "missing_block")
	assert.Contains(t, lines[2], "block_bbox_shift")
	assert.Contains(t, lines[3], "extra_block")
}

func TestBuildRepairGuidanceEmpty(t *testing.T) {
	assert.Empty(t, BuildRepairGuidance(attribution.Summarize(nil)))
}

func TestBuildRepairGuidanceCapsList(t *testing.T) {
	var signals []attribution.Signal
	for i := 0; i < 20; i++ {
		signals = append(signals, attribution.Signal{
			Kind:     "block_bbox_shift",
			Severity: attribution.SeverityMedium,
			Detail:   fmt.Sprintf("block %d drifted", i),
		})
	}

	guidance := BuildRepairGuidance(attribution.Summarize(signals))
	assert.Contains(t, guidance, "and 8 more")
	assert.Equal(t, 14, len(strings.Split(strings.TrimSpace(guidance), "\n")))
}
