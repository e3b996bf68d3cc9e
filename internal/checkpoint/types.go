// Package checkpoint persists per-thread conversation state so that a
// session can resume after a restart or an approval interrupt.
package checkpoint

import (
	"time"

	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/llm"
)

// Message is one entry in a thread's transcript. Tool results carry
// ToolID and ToolName alongside the content.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	Role      llm.Role       `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolID    string         `json:"tool_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a transcript message with a fresh id and timestamp.
func NewMessage(role llm.Role, content string) Message {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Message{ID: id, Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// PendingApproval records a tool call that was halted for human
// review. CallIndex is the call's position within the assistant
// message that requested it, so edited arguments can be written back
// in place on resume.
type PendingApproval struct {
	Call        llm.ToolCall `json:"call"`
	CallIndex   int          `json:"call_index"`
	RequestedAt time.Time    `json:"requested_at"`
}

// ThreadState is the full checkpointed state of one conversation
// thread. LoopStep and ToolBudget are reset at the start of each turn;
// they are persisted so an interrupted turn resumes with its counters
// intact.
type ThreadState struct {
	ThreadID string    `json:"thread_id"`
	UserID   string    `json:"user_id"`
	Messages []Message `json:"messages"`
	// Question is the canonical question of the turn in progress: the
	// user message that opened it, never a rewritten variant.
	Question   string           `json:"question,omitempty"`
	LoopStep   int              `json:"loop_step"`
	ToolBudget int              `json:"tool_budget"`
	Pending    *PendingApproval `json:"pending,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewThreadState returns an empty state for a thread owned by userID.
func NewThreadState(threadID, userID string) *ThreadState {
	now := time.Now().UTC()
	return &ThreadState{
		ThreadID:  threadID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the transcript and bumps UpdatedAt.
func (s *ThreadState) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now().UTC()
}

// LastUserQuestion returns the content of the most recent user
// message, or "" when the transcript has none.
func (s *ThreadState) LastUserQuestion() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}
