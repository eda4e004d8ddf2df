// Package crawl discovers the pages of a reference site and distills each
// one into a markdown brief the generator can rebuild from.
package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// PagePlan is one discovered page.
type PagePlan struct {
	URL    string `json:"url"`
	Slug   string `json:"slug"`
	Intent string `json:"intent"`
	Brief  string `json:"brief,omitempty"`
}

// SitePlan is the crawl result for one reference site.
type SitePlan struct {
	Domain string     `json:"domain"`
	Pages  []PagePlan `json:"pages"`
}

// Config bounds the crawl.
type Config struct {
	MaxPages int
	MaxDepth int
	// BriefMaxLen truncates each page brief, in runes. 0 means the
	// default of 6000.
	BriefMaxLen int
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 8
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 2
	}
	if c.BriefMaxLen <= 0 {
		c.BriefMaxLen = 6000
	}
	return c
}

// Crawler walks a site breadth-first from its root.
type Crawler struct {
	fetch     Fetcher
	cfg       Config
	log       *zap.Logger
	sanitizer *bluemonday.Policy
	md        *converter.Converter
}

// New builds a crawler on top of a page fetcher.
func New(fetch Fetcher, cfg Config, log *zap.Logger) *Crawler {
	return &Crawler{
		fetch:     fetch,
		cfg:       cfg.withDefaults(),
		log:       log,
		sanitizer: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Plan crawls the site at rawURL and returns its page plan. The root page
// always comes first; discovery is breadth-first, same-host only, bounded
// by MaxPages and MaxDepth.
func (c *Crawler) Plan(ctx context.Context, rawURL string) (*SitePlan, error) {
	root, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	rootURL, _ := url.Parse(root)

	plan := &SitePlan{Domain: rootURL.Host}
	type queued struct {
		url   string
		depth int
	}
	queue := []queued{{url: root}}
	seen := map[string]bool{root: true}
	seenSlugs := map[string]bool{}

	for len(queue) > 0 && len(plan.Pages) < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue[0]
		queue = queue[1:]

		html, err := c.fetch.Fetch(ctx, item.url)
		if err != nil {
			c.log.Warn("page fetch failed", zap.String("url", item.url), zap.Error(err))
			continue
		}

		slug := SlugFromURL(item.url)
		if seenSlugs[slug] {
			continue
		}
		seenSlugs[slug] = true

		plan.Pages = append(plan.Pages, PagePlan{
			URL:    item.url,
			Slug:   slug,
			Intent: InferIntent(item.url),
			Brief:  c.Brief(html, item.url),
		})

		if item.depth >= c.cfg.MaxDepth {
			continue
		}
		for _, link := range ExtractLinks(html, rootURL) {
			if !seen[link] {
				seen[link] = true
				queue = append(queue, queued{url: link, depth: item.depth + 1})
			}
		}
	}

	if len(plan.Pages) == 0 {
		return nil, fmt.Errorf("crawl %s: no pages captured", root)
	}
	return plan, nil
}

// Brief sanitizes raw page HTML and converts it to truncated markdown. When
// conversion yields nothing usable the sanitized text is returned instead.
func (c *Crawler) Brief(html, pageURL string) string {
	clean := c.sanitizer.Sanitize(html)
	md, err := c.md.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		md = clean
	}
	md = strings.TrimSpace(md)
	if runes := []rune(md); len(runes) > c.cfg.BriefMaxLen {
		md = string(runes[:c.cfg.BriefMaxLen])
	}
	return md
}

// NormalizeURL trims and upgrades a bare domain to https.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	u.Fragment = ""
	return u.String(), nil
}

// SlugFromURL flattens a page path into a directory-safe slug.
func SlugFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "home"
	}
	slug := strings.NewReplacer("/", "-", "?", "-", "#", "-").Replace(u.Path)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "home"
	}
	return slug
}

// InferIntent classifies a page by its URL path.
func InferIntent(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "page"
	}
	path := strings.ToLower(u.Path)
	switch {
	case path == "" || path == "/":
		return "home"
	case strings.Contains(path, "pricing") || strings.Contains(path, "plan"):
		return "pricing"
	case strings.Contains(path, "faq") || strings.Contains(path, "question"):
		return "faq"
	case strings.Contains(path, "case") || strings.Contains(path, "customer") || strings.Contains(path, "story"):
		return "case_study"
	case strings.Contains(path, "about") || strings.Contains(path, "company") || strings.Contains(path, "team"):
		return "about"
	case strings.Contains(path, "contact") || strings.Contains(path, "demo") || strings.Contains(path, "sales"):
		return "contact"
	case strings.Contains(path, "support") || strings.Contains(path, "help"):
		return "support"
	case strings.Contains(path, "blog") || strings.Contains(path, "news") || strings.Contains(path, "insight"):
		return "blog"
	case strings.Contains(path, "product") || strings.Contains(path, "solution"):
		return "product"
	}
	return "page"
}
