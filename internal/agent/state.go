// Package agent implements the bounded retrieval-rewrite control loop
// that turns a user message into a final answer.
package agent

// State names the control loop's states.
type State string

const (
	StateDecide   State = "decide"
	StateRetrieve State = "retrieve"
	StateGrade    State = "grade"
	StateRewrite  State = "rewrite"
	StateAnswer   State = "answer"
	StateEnd      State = "end"
)
