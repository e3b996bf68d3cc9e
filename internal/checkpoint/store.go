package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when a thread has no saved state.
var ErrNotFound = errors.New("checkpoint: thread not found")

// Store persists thread state keyed by thread id. Put overwrites the
// previous state atomically; readers never observe a partial write.
type Store interface {
	Get(ctx context.Context, threadID string) (*ThreadState, error)
	Put(ctx context.Context, state *ThreadState) error
	Delete(ctx context.Context, threadID string) error
	Close() error
}

// encodeState serializes and gzips a thread state for blob storage.
func encodeState(state *ThreadState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeState reverses encodeState.
func decodeState(blob []byte) (*ThreadState, error) {
	gr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var state ThreadState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
