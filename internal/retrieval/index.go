// Package retrieval serves the agent's evidence needs: a local
// embedded document index for knowledge base lookups and a SearXNG
// client for web search fallback.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/embeddings"
)

// Document is one indexed chunk with its source label.
type Document struct {
	ID      uuid.UUID
	Source  string
	Content string
}

// Index is a SQLite-backed vector index. Embeddings are stored as JSON
// blobs and ranked in process; corpus sizes here are small enough that
// a scan beats running a vector database.
type Index struct {
	db       *sql.DB
	embedder Embedder
}

// Embedder produces embedding vectors. Satisfied by embeddings.Client.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// NewIndex creates an index on the given database, running migrations
// as needed.
func NewIndex(db *sql.DB, embedder Embedder) (*Index, error) {
	idx := &Index{db: db, embedder: embedder}
	if err := idx.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	_, err := idx.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_source
			ON documents(source);
	`)
	return err
}

// Add embeds and stores one document chunk.
func (idx *Index) Add(ctx context.Context, source, content string) (*Document, error) {
	vec, err := idx.embedder.Generate(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed document: %w", err)
	}
	blob, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	_, err = idx.db.ExecContext(ctx, `
		INSERT INTO documents (id, source, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), source, content, string(blob), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return &Document{ID: id, Source: source, Content: content}, nil
}

// Count reports the number of indexed chunks.
func (idx *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Search returns the k chunks nearest to the query. An empty index
// yields an empty slice.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Document, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT id, source, content, embedding FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	var vecs [][]float32
	for rows.Next() {
		var doc Document
		var idStr, blob string
		if err := rows.Scan(&idStr, &doc.Source, &doc.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.ID, _ = uuid.Parse(idStr)

		var vec []float32
		if err := json.Unmarshal([]byte(blob), &vec); err != nil {
			return nil, fmt.Errorf("unmarshal embedding for %s: %w", idStr, err)
		}
		docs = append(docs, doc)
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ranked := embeddings.TopK(queryVec, vecs, k)
	out := make([]Document, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, docs[r.Index])
	}
	return out, nil
}
