package crawl

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// skippedExtensions are asset links a page crawl never follows.
var skippedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
	".css", ".js", ".pdf", ".zip", ".xml", ".json", ".mp4", ".webm",
}

// ExtractLinks returns the same-host page links found in doc, resolved
// against base, deduplicated, in document order. Fragments and obvious
// asset URLs are dropped.
func ExtractLinks(doc string, base *url.URL) []string {
	node, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var links []string
	seen := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if link, ok := resolveLink(attr.Val, base); ok && !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return links
}

func resolveLink(href string, base *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(resolved.Host, base.Host) {
		return "", false
	}
	lower := strings.ToLower(resolved.Path)
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return "", false
		}
	}
	resolved.Fragment = ""
	resolved.RawQuery = ""
	return resolved.String(), true
}
