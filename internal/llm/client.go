package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// A nil opts is equivalent to a plain completion with defaults.
	Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
