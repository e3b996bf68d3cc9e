package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Embedder produces the vector for a text. Satisfied by
// embeddings.Client.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// PostgresStore ranks memories by cosine distance over pgvector
// embeddings. Records are embedded once on Put and searched with the
// embedded query.
type PostgresStore struct {
	db       *sql.DB
	embedder Embedder
	dims     int
}

// NewPostgresStore connects to Postgres, ensures the vector extension
// and schema exist, and returns the store. dims must match the
// embedding model's output size.
func NewPostgresStore(ctx context.Context, url string, embedder Embedder, dims int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, embedder: embedder, dims: dims}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memories (
			namespace TEXT NOT NULL,
			key UUID NOT NULL,
			summary TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, key)
		)
	`, s.dims))
	return err
}

// Put embeds the summary and inserts the record.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	vec, err := s.embedder.Generate(ctx, rec.Summary)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (namespace, key, summary, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.Namespace, rec.Key, rec.Summary, pgvector.NewVector(vec), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest records by cosine
// distance.
func (s *PostgresStore) Search(ctx context.Context, namespace, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}

	vec, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, summary, created_at FROM memories
		WHERE namespace = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, namespace, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec := Record{Namespace: namespace}
		if err := rows.Scan(&rec.Key, &rec.Summary, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Get fetches a single record by key.
func (s *PostgresStore) Get(ctx context.Context, namespace string, key uuid.UUID) (*Record, error) {
	rec := Record{Namespace: namespace, Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT summary, created_at FROM memories
		WHERE namespace = $1 AND key = $2
	`, namespace, key).Scan(&rec.Summary, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	return &rec, nil
}

// Close releases the database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }
