package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-process store for tests and the default
// no-persistence mode. States are copied through the blob codec on
// both paths, so callers get the same isolation as a real backend.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Get loads a thread's state, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, threadID string) (*ThreadState, error) {
	s.mu.RLock()
	blob, ok := s.blobs[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeState(blob)
}

// Put overwrites a thread's state.
func (s *MemoryStore) Put(_ context.Context, state *ThreadState) error {
	blob, err := encodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[state.ThreadID] = blob
	s.mu.Unlock()
	return nil
}

// Delete removes a thread's state.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.blobs, threadID)
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
