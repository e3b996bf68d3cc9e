package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps one gzipped state blob per thread in a local
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on the given database, running
// migrations as needed. The store does not own the handle; Close is a
// no-op so the caller can share the database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			state_gz BLOB NOT NULL,
			message_count INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_user
			ON threads(user_id);
	`)
	return err
}

// Get loads a thread's state, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*ThreadState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state_gz FROM threads WHERE thread_id = ?
	`, threadID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query thread: %w", err)
	}
	return decodeState(blob)
}

// Put upserts a thread's state. The single-row REPLACE keeps the write
// atomic with respect to readers.
func (s *SQLiteStore) Put(ctx context.Context, state *ThreadState) error {
	blob, err := encodeState(state)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, user_id, updated_at, state_gz, message_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at,
			state_gz = excluded.state_gz,
			message_count = excluded.message_count
	`, state.ThreadID, state.UserID, time.Now().UTC().Format(time.RFC3339), blob, len(state.Messages))
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

// Delete removes a thread's state. Deleting a missing thread is not an
// error.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }
