// Package llm provides language model client implementations.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Role identifies who authored a chat message. It aliases string so
// callers can use plain literals where convenient.
type Role = string

// Message roles. A message carries only the fields valid for its role:
// tool-invocation requests appear on assistant messages, and the
// ToolCallID correlation only on tool messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a tool-invocation request emitted by the model. All
// fields use proper Go types; wire format conversion happens at
// provider boundaries (ollama.go, anthropic.go).
type ToolCall struct {
	ID        string         `json:"id,omitempty"` // Provider-assigned correlation ID
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ChatResponse is the unified response from any LLM provider.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

// StreamCallback receives incremental text tokens during streaming.
type StreamCallback func(token string)

// Options modifies a single chat request.
type Options struct {
	// Tools binds tool definitions in the OpenAI function format
	// (type/function/name/description/parameters). Nil disables
	// tool calling.
	Tools []map[string]any

	// Format requests structured output conforming to the given JSON
	// schema. When set, the response Content is the raw JSON document.
	// Mutually exclusive with Tools.
	Format map[string]any

	// OnToken, when non-nil, streams text tokens as they arrive.
	OnToken StreamCallback

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}
