package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// SQLiteStore ranks memories by token overlap with the query. It needs
// no embedding model, which keeps the default local setup dependency
// free.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a memory store on the given database, running
// migrations as needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		);

		CREATE INDEX IF NOT EXISTS idx_memories_namespace
			ON memories(namespace);
	`)
	return err
}

// Put inserts a record.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (namespace, key, summary, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.Namespace, rec.Key.String(), rec.Summary, rec.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Search loads the namespace and ranks records by shared tokens with
// the query. Records with no overlap still participate so a short
// namespace returns everything it has.
func (s *SQLiteStore) Search(ctx context.Context, namespace, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, summary, created_at FROM memories
		WHERE namespace = ?
		ORDER BY created_at DESC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var keyStr, createdStr string
		rec := Record{Namespace: namespace}
		if err := rows.Scan(&keyStr, &rec.Summary, &createdStr); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Key, _ = uuid.Parse(keyStr)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	queryTokens := tokenize(query)
	sort.SliceStable(recs, func(i, j int) bool {
		return overlap(queryTokens, tokenize(recs[i].Summary)) > overlap(queryTokens, tokenize(recs[j].Summary))
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Get fetches a single record by key.
func (s *SQLiteStore) Get(ctx context.Context, namespace string, key uuid.UUID) (*Record, error) {
	rec := Record{Namespace: namespace, Key: key}
	var createdStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT summary, created_at FROM memories
		WHERE namespace = ? AND key = ?
	`, namespace, key.String()).Scan(&rec.Summary, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return &rec, nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }

// tokenize lowercases the text and emits word tokens. Han runes become
// single-rune tokens, which is enough for overlap scoring on CJK text.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens[word.String()] = struct{}{}
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}
