package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/buddy-ai/buddy/internal/httpkit"
)

// WebResult is one hit from a web search.
type WebResult struct {
	Title   string
	URL     string
	Content string
}

// SearXNG queries a SearXNG instance's JSON API.
type SearXNG struct {
	baseURL string
	http    *http.Client
}

// NewSearXNG creates a client for the SearXNG instance rooted at
// baseURL (e.g. "http://localhost:8080").
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{
		baseURL: baseURL,
		http:    httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Search runs a query and returns up to count results.
func (s *SearXNG) Search(ctx context.Context, query string, count int) ([]WebResult, error) {
	if count <= 0 {
		count = 5
	}

	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}
	reqURL := fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("searxng: decode response: %w", err)
	}

	results := make([]WebResult, 0, count)
	for i, r := range sr.Results {
		if i >= count {
			break
		}
		results = append(results, WebResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return results, nil
}
