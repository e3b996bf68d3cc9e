// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (control loop, retrieval
// gateway, tools) to subscribers (CLI renderer, future metrics
// collector). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceLoop identifies events from the control loop.
	SourceLoop = "loop"
	// SourceRetrieval identifies events from the evidence gateway.
	SourceRetrieval = "retrieval"
	// SourceTool identifies events from tool execution.
	SourceTool = "tool"
	// SourceMemory identifies events from the memory summarizer path.
	SourceMemory = "memory"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a user turn.
	// Data: thread_id, user_id.
	KindTurnStart = "turn_start"
	// KindStateEnter signals the loop entered a state.
	// Data: thread_id, state, loop_step.
	KindStateEnter = "state_enter"
	// KindLLMCall signals the start of a model invocation.
	// Data: thread_id, purpose, model.
	KindLLMCall = "llm_call"
	// KindToolCall signals the start of a tool execution.
	// Data: thread_id, tool.
	KindToolCall = "tool_call"
	// KindToolProgress carries a human-readable progress string emitted
	// by a running tool. Observational only. Data: thread_id, tool, text.
	KindToolProgress = "tool_progress"
	// KindToolDone signals completion of a tool execution.
	// Data: thread_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindVerdict signals a grading outcome. Data: thread_id, verdict,
	// loop_step.
	KindVerdict = "verdict"
	// KindInterrupt signals the turn suspended for approval.
	// Data: thread_id, tool.
	KindInterrupt = "interrupt"
	// KindTurnComplete signals the end of a user turn.
	// Data: thread_id, loop_step, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindMemorySaved signals a memory record was persisted.
	// Data: thread_id, namespace, key.
	KindMemorySaved = "memory_saved"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
