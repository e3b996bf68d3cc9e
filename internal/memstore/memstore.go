// Package memstore is the long-term memory layer. Records live in a
// per-user namespace and hold one condensed fact each; search returns
// the facts most relevant to a query so the agent can seed its system
// prompt.
package memstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record key does not exist in the
// given namespace.
var ErrNotFound = errors.New("memstore: record not found")

// Record is one stored memory fact.
type Record struct {
	Namespace string
	Key       uuid.UUID
	Summary   string
	CreatedAt time.Time
}

// Namespace builds the per-user namespace for memory records. Two
// users never share a namespace.
func Namespace(userID string) string {
	return "memories/" + userID
}

// Store persists and searches memory records.
type Store interface {
	// Put inserts a record. Keys are unique within a namespace.
	Put(ctx context.Context, rec Record) error
	// Search returns up to limit records from the namespace ranked by
	// relevance to query, best first. An unknown namespace yields an
	// empty result, not an error.
	Search(ctx context.Context, namespace, query string, limit int) ([]Record, error)
	// Get fetches a single record by key, or ErrNotFound.
	Get(ctx context.Context, namespace string, key uuid.UUID) (*Record, error)
	Close() error
}

// NewRecord builds a record in the user's namespace with a fresh key.
func NewRecord(userID, summary string) Record {
	key, err := uuid.NewV7()
	if err != nil {
		key = uuid.New()
	}
	return Record{
		Namespace: Namespace(userID),
		Key:       key,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
}
