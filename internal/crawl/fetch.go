package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fetcher returns the rendered HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// EscalateFunc renders a page in a real browser. Used when a static fetch
// comes back as a script shell.
type EscalateFunc func(ctx context.Context, url string) (string, error)

const fetchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// maxFetchBody caps how much of a response we read.
const maxFetchBody = 4 << 20

// HTTPFetcher fetches statically first and escalates to a browser only when
// the static document is not worth probing. Static fetches are an order of
// magnitude cheaper, and most marketing sites serve complete HTML.
type HTTPFetcher struct {
	Client   *http.Client
	Escalate EscalateFunc
	Log      *zap.Logger
}

// NewHTTPFetcher builds a fetcher with a shared persistent client.
func NewHTTPFetcher(escalate EscalateFunc, log *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 30 * time.Second,
		},
		Escalate: escalate,
		Log:      log,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	html, err := f.fetchStatic(ctx, url)
	if err == nil && !NeedsBrowser(html) {
		return html, nil
	}
	if f.Escalate == nil {
		if err != nil {
			return "", err
		}
		return html, nil
	}
	if err != nil {
		f.Log.Debug("static fetch failed, escalating", zap.String("url", url), zap.Error(err))
	} else {
		f.Log.Debug("static fetch is a script shell, escalating", zap.String("url", url))
	}
	rendered, escErr := f.Escalate(ctx, url)
	if escErr != nil {
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w (browser: %v)", url, err, escErr)
		}
		// Static content is better than nothing.
		return html, nil
	}
	return rendered, nil
}

func (f *HTTPFetcher) fetchStatic(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), nil
}

// NeedsBrowser reports whether a static document is a JS application shell
// that must be rendered before it carries any content.
func NeedsBrowser(doc string) bool {
	trimmed := strings.TrimSpace(doc)
	if len(trimmed) < 512 {
		return true
	}
	lower := strings.ToLower(trimmed)
	textMarkers := 0
	for _, tag := range []string{"<p", "<h1", "<h2", "<section", "<article", "<main"} {
		textMarkers += strings.Count(lower, tag)
	}
	if textMarkers >= 3 {
		return false
	}
	// A lone mount point with no content tags is the SPA signature.
	return strings.Contains(lower, `id="root"`) || strings.Contains(lower, `id="app"`) ||
		strings.Contains(lower, `id="__next"`) || textMarkers == 0
}
