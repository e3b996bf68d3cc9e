package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Gateway fronts both evidence sources behind a common string-in,
// string-out surface. Empty evidence is reported as an empty string,
// never as an error: the control loop treats missing evidence as a
// routing signal, not a failure.
type Gateway struct {
	index      *Index
	searx      *SearXNG
	fetcher    *Fetcher
	topK       int
	fetchPages bool
	timeout    time.Duration
	logger     *slog.Logger
}

// GatewayConfig wires a Gateway. Searx may be nil when no web search
// instance is configured.
type GatewayConfig struct {
	Index      *Index
	Searx      *SearXNG
	TopK       int
	FetchPages bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewGateway builds a gateway over the given sources.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		index:      cfg.Index,
		searx:      cfg.Searx,
		fetcher:    NewFetcher(),
		topK:       cfg.TopK,
		fetchPages: cfg.FetchPages,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
}

// Lookup searches the knowledge base and formats the top chunks as
// evidence blocks. No matches, an empty index, or a timed-out search
// all return "", nil.
func (g *Gateway) Lookup(ctx context.Context, query string) (string, error) {
	if g.index == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	docs, err := g.index.Search(ctx, query, g.topK)
	if err != nil {
		if ctx.Err() != nil {
			g.logger.Warn("knowledge base lookup timed out", "query", query)
			return "", nil
		}
		return "", fmt.Errorf("knowledge base lookup: %w", err)
	}
	if len(docs) == 0 {
		return "", nil
	}

	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		blocks = append(blocks, fmt.Sprintf("Source: %s\nContent: %s", d.Source, d.Content))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// SearchWeb runs a web search and formats the results as evidence
// blocks. When page fetching is enabled, each result's snippet is
// replaced with the page's readable text where the fetch succeeds.
func (g *Gateway) SearchWeb(ctx context.Context, query string) (string, error) {
	if g.searx == nil {
		return "", fmt.Errorf("web search not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := g.searx.Search(ctx, query, g.topK)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		content := r.Content
		if g.fetchPages {
			if text, err := g.fetcher.FetchText(ctx, r.URL, 2000); err == nil && text != "" {
				content = text
			} else if err != nil {
				g.logger.Debug("page fetch failed, keeping snippet", "url", r.URL, "error", err)
			}
		}
		blocks = append(blocks, fmt.Sprintf("Source: %s (%s)\nContent: %s", r.Title, r.URL, content))
	}
	return strings.Join(blocks, "\n\n"), nil
}
