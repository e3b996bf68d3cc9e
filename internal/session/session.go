// Package session coordinates access to conversation threads. Each
// thread has a single-writer lock so concurrent turns on the same
// thread serialize instead of interleaving their checkpoints.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/buddy-ai/buddy/internal/checkpoint"
)

// UserContext identifies who is speaking in a turn.
type UserContext struct {
	UserID      string
	DisplayName string
}

// Manager loads, commits, and clears thread state, serializing writers
// per thread.
type Manager struct {
	store  checkpoint.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wraps a checkpoint store.
func NewManager(store checkpoint.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Acquire takes the thread's writer lock and returns the release
// func. Callers must release even on error paths.
func (m *Manager) Acquire(threadID string) func() {
	m.mu.Lock()
	lock, ok := m.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[threadID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Load returns the thread's saved state, or a fresh state when the
// thread has never been checkpointed. A fresh state is not persisted
// until the first Commit.
func (m *Manager) Load(ctx context.Context, user UserContext, threadID string) (*checkpoint.ThreadState, error) {
	state, err := m.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		m.logger.Debug("starting fresh thread", "thread_id", threadID, "user_id", user.UserID)
		return checkpoint.NewThreadState(threadID, user.UserID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	return state, nil
}

// Commit persists the thread's state.
func (m *Manager) Commit(ctx context.Context, state *checkpoint.ThreadState) error {
	if err := m.store.Put(ctx, state); err != nil {
		return fmt.Errorf("commit thread %s: %w", state.ThreadID, err)
	}
	m.logger.Debug("thread committed",
		"thread_id", state.ThreadID,
		"messages", len(state.Messages))
	return nil
}

// Clear removes the thread's transcript and any pending approval but
// leaves the user's long-term memories untouched. The emptied state is
// committed so the wipe survives a restart.
func (m *Manager) Clear(ctx context.Context, state *checkpoint.ThreadState) error {
	state.Messages = nil
	state.Pending = nil
	state.LoopStep = 0
	if err := m.store.Put(ctx, state); err != nil {
		return fmt.Errorf("clear thread %s: %w", state.ThreadID, err)
	}
	m.logger.Info("conversation cleared", "thread_id", state.ThreadID)
	return nil
}
