package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/net/html"
	_ "modernc.org/sqlite"
)

// fakeEmbedder maps known texts to fixed vectors so ranking is
// deterministic without an embedding server.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func testIndex(t *testing.T, embedder Embedder) *Index {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	idx, err := NewIndex(db, embedder)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestIndexSearchRanking(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"agents use tools":     {1, 0, 0},
		"cats sleep all day":   {0, 1, 0},
		"tools extend agents":  {0.9, 0.1, 0},
		"what can agents do?":  {1, 0, 0},
	}}
	idx := testIndex(t, emb)

	for _, c := range []string{"agents use tools", "cats sleep all day", "tools extend agents"} {
		if _, err := idx.Add(ctx, "notes.md", c); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := idx.Search(ctx, "what can agents do?", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	if docs[0].Content != "agents use tools" {
		t.Errorf("best = %q", docs[0].Content)
	}
	if docs[1].Content != "tools extend agents" {
		t.Errorf("second = %q", docs[1].Content)
	}
}

func TestIndexSearchEmpty(t *testing.T) {
	idx := testIndex(t, &fakeEmbedder{})
	docs, err := idx.Search(context.Background(), "anything", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if docs != nil {
		t.Errorf("docs = %v, want nil", docs)
	}
}

func TestGatewayLookupFormatsEvidence(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{"fact one": {1, 0, 0}, "q": {1, 0, 0}}}
	idx := testIndex(t, emb)
	if _, err := idx.Add(ctx, "kb.md", "fact one"); err != nil {
		t.Fatal(err)
	}

	g := NewGateway(GatewayConfig{Index: idx, TopK: 2})
	evidence, err := g.Lookup(ctx, "q")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !strings.Contains(evidence, "Source: kb.md") || !strings.Contains(evidence, "Content: fact one") {
		t.Errorf("evidence = %q", evidence)
	}
}

func TestGatewayLookupEmptyIndexIsSoft(t *testing.T) {
	g := NewGateway(GatewayConfig{Index: testIndex(t, &fakeEmbedder{})})
	evidence, err := g.Lookup(context.Background(), "q")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if evidence != "" {
		t.Errorf("evidence = %q, want empty", evidence)
	}
}

func TestSearXNGSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q", got)
		}
		json.NewEncoder(w).Encode(searxngResponse{Results: []searxngResult{
			{Title: "Weather today", URL: "https://example.com/w", Content: "sunny everywhere"},
			{Title: "Other", URL: "https://example.com/o", Content: "misc"},
			{Title: "Third", URL: "https://example.com/t", Content: "extra"},
		}})
	}))
	defer srv.Close()

	s := NewSearXNG(srv.URL)
	results, err := s.Search(context.Background(), "weather", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].Title != "Weather today" {
		t.Errorf("title = %q", results[0].Title)
	}
}

func TestGatewaySearchWebFormatsEvidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searxngResponse{Results: []searxngResult{
			{Title: "Page", URL: "https://example.com", Content: "snippet text"},
		}})
	}))
	defer srv.Close()

	g := NewGateway(GatewayConfig{Searx: NewSearXNG(srv.URL)})
	evidence, err := g.SearchWeb(context.Background(), "q")
	if err != nil {
		t.Fatalf("SearchWeb: %v", err)
	}
	if !strings.Contains(evidence, "Source: Page (https://example.com)") {
		t.Errorf("evidence = %q", evidence)
	}
	if !strings.Contains(evidence, "Content: snippet text") {
		t.Errorf("evidence = %q", evidence)
	}
}

func TestGatewaySearchWebUnconfigured(t *testing.T) {
	g := NewGateway(GatewayConfig{})
	if _, err := g.SearchWeb(context.Background(), "q"); err == nil {
		t.Fatal("expected error when no web search configured")
	}
}

func TestExtractText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<html><head><style>.x{}</style><script>var a;</script></head>` +
			`<body><nav>menu</nav><p>Hello <b>world</b></p><footer>foot</footer></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	got := extractText(doc)
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "world") {
		t.Errorf("text = %q", got)
	}
	for _, bad := range []string{"menu", "foot", "var a", ".x{}"} {
		if strings.Contains(got, bad) {
			t.Errorf("text contains %q", bad)
		}
	}
}
