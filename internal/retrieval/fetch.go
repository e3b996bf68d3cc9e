package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/buddy-ai/buddy/internal/httpkit"
)

// maxPageBytes caps how much of a fetched page we parse.
const maxPageBytes = 1 << 20

// Fetcher downloads pages and extracts their readable text, used to
// enrich web search snippets with actual page content.
type Fetcher struct {
	http *http.Client
}

// NewFetcher returns a page fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		http: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
	}
}

// FetchText downloads a page and returns its visible text, truncated
// to maxChars runes. Non-HTML responses return an error.
func (f *Fetcher) FetchText(ctx context.Context, pageURL string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return "", fmt.Errorf("fetch %s: unsupported content type %q", pageURL, ct)
	}

	doc, err := html.Parse(http.MaxBytesReader(nil, resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("fetch %s: parse html: %w", pageURL, err)
	}

	text := extractText(doc)
	if maxChars > 0 {
		runes := []rune(text)
		if len(runes) > maxChars {
			text = string(runes[:maxChars])
		}
	}
	return text, nil
}

// extractText walks the DOM collecting visible text, skipping script,
// style, and non-content containers.
func extractText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "footer", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
