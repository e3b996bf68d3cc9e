// Package embeddings generates vector embeddings via an Ollama server
// and provides the similarity math used by the retrieval and memory
// layers.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/buddy-ai/buddy/internal/httpkit"
)

// Client talks to an Ollama server's embeddings endpoint.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient returns a client for the given Ollama base URL and
// embedding model.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    httpkit.NewClient(httpkit.WithTimeout(60 * time.Second)),
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Generate returns the embedding vector for a single text.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings request: status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embeddings request: empty vector for model %q", c.model)
	}
	return out.Embedding, nil
}

// GenerateBatch embeds each text in order. A failure on any text fails
// the batch.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for i, t := range texts {
		v, err := c.Generate(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vecs = append(vecs, v)
	}
	return vecs, nil
}

// CosineSimilarity returns the cosine similarity of two vectors, or 0
// when either vector is empty, mismatched in length, or zero-magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Scored pairs an index into a candidate set with its similarity.
type Scored struct {
	Index int
	Score float64
}

// TopK ranks candidates against a query vector and returns the k best,
// highest similarity first. Ties keep candidate order.
func TopK(query []float32, candidates [][]float32, k int) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for i, c := range candidates {
		scored = append(scored, Scored{Index: i, Score: CosineSimilarity(query, c)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
