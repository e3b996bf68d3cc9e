package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/buddy-ai/buddy/internal/checkpoint"
	"github.com/buddy-ai/buddy/internal/events"
	"github.com/buddy-ai/buddy/internal/llm"
	"github.com/buddy-ai/buddy/internal/memstore"
	"github.com/buddy-ai/buddy/internal/prompts"
	"github.com/buddy-ai/buddy/internal/session"
	"github.com/buddy-ai/buddy/internal/summarizer"
	"github.com/buddy-ai/buddy/internal/tools"
)

// ErrPendingApproval is returned by Run when the thread is suspended
// waiting for an approval decision; the caller must use Resume.
var ErrPendingApproval = errors.New("agent: thread has a pending approval, resume it first")

// ErrNoPendingApproval is returned by Resume when the thread has
// nothing to resume.
var ErrNoPendingApproval = errors.New("agent: thread has no pending approval")

// Decision resolves a pending approval.
type Decision struct {
	Kind DecisionKind
	// Arguments replaces the pending call's arguments for DecisionEdit.
	Arguments map[string]any
	// Feedback is shown to the model for DecisionReject.
	Feedback string
}

// DecisionKind enumerates the three approval outcomes.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionEdit    DecisionKind = "edit"
	DecisionReject  DecisionKind = "reject"
)

// TurnResult is what a completed (or suspended) turn reports back.
type TurnResult struct {
	// Messages are the messages appended during this turn, in order.
	Messages []checkpoint.Message
	// FinalAnswer is never empty for a completed turn.
	FinalAnswer string
	// Warnings lists non-fatal problems hit along the way.
	Warnings []string
	// Interrupted is set when the turn suspended for approval; Pending
	// describes the call awaiting a decision.
	Interrupted bool
	Pending     *checkpoint.PendingApproval
}

// Config wires a Loop.
type Config struct {
	Client     llm.Client
	Model      string
	Registry   *tools.Registry
	Grader     *Grader
	Rewriter   *Rewriter
	Summarizer *summarizer.Summarizer
	Memory     memstore.Store
	Sessions   *session.Manager
	Bus        *events.Bus
	Logger     *slog.Logger
	// LoopCeiling bounds rewrite iterations per turn.
	LoopCeiling int
	// ToolBudget bounds tool executions per turn.
	ToolBudget int
	// ApprovalRequired lists tool names that suspend for human review.
	ApprovalRequired []string
}

// Loop is the agent control loop: a bounded state machine over
// DECIDE, RETRIEVE, GRADE, REWRITE, ANSWER, and END.
type Loop struct {
	client     llm.Client
	model      string
	registry   *tools.Registry
	grader     *Grader
	rewriter   *Rewriter
	summarizer *summarizer.Summarizer
	memory     memstore.Store
	sessions   *session.Manager
	bus        *events.Bus
	logger     *slog.Logger
	ceiling    int
	toolBudget int
	approval   map[string]bool
}

// New builds a loop from the config, applying the default bounds when
// unset.
func New(cfg Config) *Loop {
	if cfg.LoopCeiling <= 0 {
		cfg.LoopCeiling = 3
	}
	if cfg.ToolBudget <= 0 {
		cfg.ToolBudget = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	approval := make(map[string]bool, len(cfg.ApprovalRequired))
	for _, name := range cfg.ApprovalRequired {
		approval[name] = true
	}
	return &Loop{
		client:     cfg.Client,
		model:      cfg.Model,
		registry:   cfg.Registry,
		grader:     cfg.Grader,
		rewriter:   cfg.Rewriter,
		summarizer: cfg.Summarizer,
		memory:     cfg.Memory,
		sessions:   cfg.Sessions,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		ceiling:    cfg.LoopCeiling,
		toolBudget: cfg.ToolBudget,
		approval:   approval,
	}
}

// turnRuntime carries the mutable per-turn scratch state the machine
// threads between states.
type turnRuntime struct {
	user  session.UserContext
	state *checkpoint.ThreadState
	// base indexes the first message belonging to this turn.
	base     int
	memories []string
	warnings []string

	// pendingCalls is the tool-call batch currently being executed in
	// RETRIEVE; callIdx is the next call to run.
	pendingCalls []llm.ToolCall
	callIdx      int
	// approvedIdx marks a call index whose approval gate has already
	// been passed on resume.
	approvedIdx int

	sawRetrieval    bool
	evidence        string
	budgetExhausted bool

	interrupted   bool
	cleared       bool
	finalOverride string

	started time.Time
}

// Run processes one user turn on a thread. Distinct threads run
// concurrently; a second turn on the same thread blocks until the
// first commits.
func (l *Loop) Run(ctx context.Context, user session.UserContext, threadID, text string) (*TurnResult, error) {
	release := l.sessions.Acquire(threadID)
	defer release()

	state, err := l.sessions.Load(ctx, user, threadID)
	if err != nil {
		return nil, err
	}
	if state.Pending != nil {
		return nil, ErrPendingApproval
	}

	// Counters reset at the start of every turn.
	state.LoopStep = 0
	state.ToolBudget = l.toolBudget
	state.Question = text
	state.Append(checkpoint.NewMessage(llm.RoleUser, text))

	rt := &turnRuntime{
		user:        user,
		state:       state,
		base:        len(state.Messages) - 1,
		approvedIdx: -1,
		started:     time.Now(),
	}
	rt.memories = l.fetchMemories(ctx, rt, text)

	l.bus.Publish(events.Event{Source: events.SourceLoop, Kind: events.KindTurnStart, Data: map[string]any{
		"thread_id": threadID,
		"user_id":   user.UserID,
	}})

	return l.run(ctx, rt, StateDecide)
}

// Resume supplies the decision for a suspended turn and continues the
// machine from RETRIEVE. It never restarts DECIDE.
func (l *Loop) Resume(ctx context.Context, user session.UserContext, threadID string, decision Decision) (*TurnResult, error) {
	release := l.sessions.Acquire(threadID)
	defer release()

	state, err := l.sessions.Load(ctx, user, threadID)
	if err != nil {
		return nil, err
	}
	if state.Pending == nil {
		return nil, ErrNoPendingApproval
	}
	pending := state.Pending
	state.Pending = nil

	calls := lastToolCallBatch(state)
	if pending.CallIndex >= len(calls) {
		return nil, fmt.Errorf("agent: pending call index %d out of range", pending.CallIndex)
	}

	rt := &turnRuntime{
		user:         user,
		state:        state,
		base:         len(state.Messages),
		pendingCalls: calls,
		callIdx:      pending.CallIndex,
		approvedIdx:  -1,
		started:      time.Now(),
	}
	rt.memories = l.fetchMemories(ctx, rt, state.Question)
	// Calls executed before the interrupt still count toward grading.
	for _, c := range calls[:pending.CallIndex] {
		if c.Name == tools.NameRetrieveContext {
			rt.sawRetrieval = true
		}
	}
	rt.evidence = latestEvidence(state)

	switch decision.Kind {
	case DecisionReject:
		content := "Tool call rejected by the user."
		if decision.Feedback != "" {
			content = fmt.Sprintf("Tool call rejected by the user: %s", decision.Feedback)
		}
		l.appendToolResult(rt, calls[pending.CallIndex], content)
		rt.callIdx++
	case DecisionEdit:
		if decision.Arguments != nil {
			calls[pending.CallIndex].Arguments = decision.Arguments
			writeBackArguments(state, pending.CallIndex, decision.Arguments)
		}
		rt.approvedIdx = pending.CallIndex
	case DecisionApprove:
		rt.approvedIdx = pending.CallIndex
	default:
		return nil, fmt.Errorf("agent: unknown decision %q", decision.Kind)
	}

	return l.run(ctx, rt, StateRetrieve)
}

// run drives the state machine to END and finishes the turn.
func (l *Loop) run(ctx context.Context, rt *turnRuntime, st State) (*TurnResult, error) {
	var err error
	for st != StateEnd {
		l.bus.Publish(events.Event{Source: events.SourceLoop, Kind: events.KindStateEnter, Data: map[string]any{
			"thread_id": rt.state.ThreadID,
			"state":     string(st),
			"loop_step": rt.state.LoopStep,
		}})

		switch st {
		case StateDecide:
			st, err = l.decide(ctx, rt)
		case StateRetrieve:
			st, err = l.retrieve(ctx, rt)
		case StateGrade:
			st = l.grade(ctx, rt)
		case StateRewrite:
			st = l.rewrite(ctx, rt)
		case StateAnswer:
			st, err = l.answer(ctx, rt)
		default:
			err = fmt.Errorf("agent: invalid state %q", st)
		}
		if err != nil {
			return nil, err
		}
		if rt.interrupted {
			return &TurnResult{
				Messages:    rt.state.Messages[min(rt.base, len(rt.state.Messages)):],
				Warnings:    rt.warnings,
				Interrupted: true,
				Pending:     rt.state.Pending,
			}, nil
		}
	}
	return l.finish(ctx, rt), nil
}

// decide invokes the model with the full tool set bound and routes on
// whether it requested tools.
func (l *Loop) decide(ctx context.Context, rt *turnRuntime) (State, error) {
	system := prompts.System(rt.user.UserID, rt.user.DisplayName, rt.memories)
	messages := toLLMMessages(system, rt.state.Messages)

	l.bus.Publish(events.Event{Source: events.SourceLoop, Kind: events.KindLLMCall, Data: map[string]any{
		"thread_id": rt.state.ThreadID,
		"purpose":   "decide",
		"model":     l.model,
	}})

	resp, err := l.client.Chat(ctx, l.model, messages, &llm.Options{Tools: l.registry.Definitions()})
	if err != nil {
		return StateEnd, fmt.Errorf("decide: %w", err)
	}

	msg := checkpoint.NewMessage(llm.RoleAssistant, resp.Message.Content)
	msg.ToolCalls = resp.Message.ToolCalls
	rt.state.Append(msg)

	if len(resp.Message.ToolCalls) == 0 {
		return StateEnd, nil
	}
	rt.pendingCalls = resp.Message.ToolCalls
	rt.callIdx = 0
	rt.sawRetrieval = false
	return StateRetrieve, nil
}

// retrieve executes the pending tool-call batch in request order,
// appending one Tool message per call.
func (l *Loop) retrieve(ctx context.Context, rt *turnRuntime) (State, error) {
	for rt.callIdx < len(rt.pendingCalls) {
		call := rt.pendingCalls[rt.callIdx]

		if !l.registry.Has(call.Name) {
			return StateEnd, &tools.UnknownToolError{Name: call.Name}
		}

		if rt.state.ToolBudget <= 0 {
			rt.budgetExhausted = true
			rt.warnings = append(rt.warnings, "tool budget exhausted, answering with available evidence")
			// Every requested call still gets a tool message so the
			// transcript pairs each invocation with a result.
			for _, skipped := range rt.pendingCalls[rt.callIdx:] {
				l.appendToolResult(rt, skipped, "Tool budget exhausted; no further tools will run this turn.")
			}
			rt.callIdx = len(rt.pendingCalls)
			break
		}

		if l.approval[call.Name] && rt.approvedIdx != rt.callIdx {
			return l.interrupt(ctx, rt, call)
		}

		if call.Name == tools.NameClearConversation {
			return l.clearConversation(ctx, rt)
		}

		rt.state.ToolBudget--
		content := l.executeCall(ctx, rt, call)
		l.appendToolResult(rt, call, content)

		switch call.Name {
		case tools.NameRetrieveContext:
			rt.sawRetrieval = true
			rt.evidence = content
		case tools.NameWebSearch:
			rt.evidence = content
		}
		rt.callIdx++
	}

	if rt.budgetExhausted {
		return StateAnswer, nil
	}
	if rt.sawRetrieval {
		return StateGrade, nil
	}
	return StateDecide, nil
}

// executeCall runs one tool, turning execution failures into tool
// message content so the model can react.
func (l *Loop) executeCall(ctx context.Context, rt *turnRuntime, call llm.ToolCall) string {
	started := time.Now()
	l.bus.Publish(events.Event{Source: events.SourceTool, Kind: events.KindToolCall, Data: map[string]any{
		"thread_id": rt.state.ThreadID,
		"tool":      call.Name,
	}})

	tctx := tools.WithUserID(ctx, rt.user.UserID)
	tctx = tools.WithProgress(tctx, func(msg string) {
		l.bus.Publish(events.Event{Source: events.SourceTool, Kind: events.KindToolProgress, Data: map[string]any{
			"thread_id": rt.state.ThreadID,
			"tool":      call.Name,
			"text":      msg,
		}})
	})

	content, err := l.registry.Execute(tctx, call.Name, call.Arguments)
	if err != nil {
		rt.warnings = append(rt.warnings, fmt.Sprintf("tool %s failed: %v", call.Name, err))
		content = fmt.Sprintf("Error: %v", err)
	}

	l.bus.Publish(events.Event{Source: events.SourceTool, Kind: events.KindToolDone, Data: map[string]any{
		"thread_id":   rt.state.ThreadID,
		"tool":        call.Name,
		"ok":          err == nil,
		"duration_ms": time.Since(started).Milliseconds(),
	}})
	return content
}

// interrupt suspends the turn for approval, persisting enough state to
// resume at exactly this call.
func (l *Loop) interrupt(ctx context.Context, rt *turnRuntime, call llm.ToolCall) (State, error) {
	rt.state.Pending = &checkpoint.PendingApproval{
		Call:        call,
		CallIndex:   rt.callIdx,
		RequestedAt: time.Now().UTC(),
	}
	if err := l.sessions.Commit(ctx, rt.state); err != nil {
		rt.state.Pending = nil
		return StateEnd, fmt.Errorf("persist approval interrupt: %w", err)
	}

	l.bus.Publish(events.Event{Source: events.SourceLoop, Kind: events.KindInterrupt, Data: map[string]any{
		"thread_id": rt.state.ThreadID,
		"tool":      call.Name,
	}})
	l.logger.Info("turn suspended for approval",
		"thread_id", rt.state.ThreadID,
		"tool", call.Name)

	rt.interrupted = true
	return StateEnd, nil
}

// clearConversation wipes the thread transcript, keeping memories.
func (l *Loop) clearConversation(ctx context.Context, rt *turnRuntime) (State, error) {
	if err := l.sessions.Clear(ctx, rt.state); err != nil {
		return StateEnd, err
	}
	rt.cleared = true
	rt.finalOverride = "Conversation cleared."
	return StateEnd, nil
}

// grade judges the latest retrieval evidence against the turn's
// canonical question.
func (l *Loop) grade(ctx context.Context, rt *turnRuntime) State {
	verdict, err := l.grader.Grade(ctx, rt.state.Question, rt.evidence)
	if err != nil {
		rt.warnings = append(rt.warnings, fmt.Sprintf("grading failed: %v", err))
		verdict = VerdictNotRelevant
	}

	l.bus.Publish(events.Event{Source: events.SourceLoop, Kind: events.KindVerdict, Data: map[string]any{
		"thread_id": rt.state.ThreadID,
		"verdict":   string(verdict),
		"loop_step": rt.state.LoopStep,
	}})

	if verdict == VerdictRelevant {
		return StateAnswer
	}
	if rt.state.LoopStep >= l.ceiling {
		l.logger.Warn("rewrite ceiling reached, answering anyway",
			"thread_id", rt.state.ThreadID,
			"loop_step", rt.state.LoopStep)
		return StateAnswer
	}
	return StateRewrite
}

// rewrite reformulates the question and re-enters DECIDE. Rewriter
// failures degrade to answering with what we have.
func (l *Loop) rewrite(ctx context.Context, rt *turnRuntime) State {
	strategy := SelectStrategy(rt.evidence)
	rewritten, err := l.rewriter.Rewrite(ctx, rt.state.Question, strategy)
	if err != nil {
		rt.warnings = append(rt.warnings, fmt.Sprintf("rewrite failed: %v", err))
		return StateAnswer
	}

	rt.state.Append(checkpoint.NewMessage(llm.RoleUser, rewritten))
	rt.state.LoopStep++
	return StateDecide
}

// answer generates the final answer from the canonical question and
// the most recent evidence.
func (l *Loop) answer(ctx context.Context, rt *turnRuntime) (State, error) {
	l.bus.Publish(events.Event{Source: events.SourceLoop, Kind: events.KindLLMCall, Data: map[string]any{
		"thread_id": rt.state.ThreadID,
		"purpose":   "answer",
		"model":     l.model,
	}})

	resp, err := l.client.Chat(ctx, l.model, []llm.Message{
		{Role: llm.RoleUser, Content: prompts.Answer(rt.state.Question, rt.evidence)},
	}, nil)
	if err != nil {
		return StateEnd, fmt.Errorf("answer: %w", err)
	}

	rt.state.Append(checkpoint.NewMessage(llm.RoleAssistant, resp.Message.Content))
	return StateEnd, nil
}

// finish extracts the final answer, runs the memory persistence path,
// and commits the thread.
func (l *Loop) finish(ctx context.Context, rt *turnRuntime) *TurnResult {
	final := rt.finalOverride
	if final == "" {
		final = finalAnswer(rt.state)
	}

	if !rt.cleared && l.summarizer != nil && l.memory != nil {
		saved, err := l.summarizer.Process(ctx, l.memory, rt.user.UserID, rt.state.Question, final)
		if err != nil {
			rt.warnings = append(rt.warnings, fmt.Sprintf("memory persistence failed: %v", err))
		} else if saved {
			l.bus.Publish(events.Event{Source: events.SourceMemory, Kind: events.KindMemorySaved, Data: map[string]any{
				"thread_id": rt.state.ThreadID,
				"namespace": memstore.Namespace(rt.user.UserID),
			}})
		}
	}

	if !rt.cleared {
		if err := l.sessions.Commit(ctx, rt.state); err != nil {
			rt.warnings = append(rt.warnings, fmt.Sprintf("checkpoint commit failed: %v", err))
		}
	}

	l.bus.Publish(events.Event{Source: events.SourceLoop, Kind: events.KindTurnComplete, Data: map[string]any{
		"thread_id":  rt.state.ThreadID,
		"loop_step":  rt.state.LoopStep,
		"elapsed_ms": time.Since(rt.started).Milliseconds(),
	}})

	var turnMessages []checkpoint.Message
	if !rt.cleared && rt.base <= len(rt.state.Messages) {
		turnMessages = rt.state.Messages[rt.base:]
	}
	return &TurnResult{
		Messages:    turnMessages,
		FinalAnswer: final,
		Warnings:    rt.warnings,
	}
}

// fetchMemories eagerly loads the memories injected into the system
// prompt. Failures degrade to an empty list.
func (l *Loop) fetchMemories(ctx context.Context, rt *turnRuntime, query string) []string {
	if l.memory == nil {
		return nil
	}
	recs, err := l.memory.Search(ctx, memstore.Namespace(rt.user.UserID), query, 5)
	if err != nil {
		rt.warnings = append(rt.warnings, fmt.Sprintf("memory lookup failed: %v", err))
		return nil
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Summary)
	}
	return out
}

func (l *Loop) appendToolResult(rt *turnRuntime, call llm.ToolCall, content string) {
	msg := checkpoint.NewMessage(llm.RoleTool, content)
	msg.ToolID = call.ID
	msg.ToolName = call.Name
	rt.state.Append(msg)
}

// finalAnswer scans the transcript from the end for the last assistant
// message without pending tool calls. Falls back to a fixed string so
// the turn never reports an empty answer.
func finalAnswer(state *checkpoint.ThreadState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) == 0 && m.Content != "" {
			return m.Content
		}
	}
	return prompts.FallbackAnswer
}

// lastToolCallBatch returns the tool calls of the most recent
// assistant message that requested any.
func lastToolCallBatch(state *checkpoint.ThreadState) []llm.ToolCall {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == llm.RoleAssistant && len(state.Messages[i].ToolCalls) > 0 {
			return state.Messages[i].ToolCalls
		}
	}
	return nil
}

// latestEvidence returns the content of the most recent retrieval tool
// message.
func latestEvidence(state *checkpoint.ThreadState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role == llm.RoleTool && (m.ToolName == tools.NameRetrieveContext || m.ToolName == tools.NameWebSearch) {
			return m.Content
		}
	}
	return ""
}

// writeBackArguments records edited arguments on the assistant message
// that requested the call, so the persisted transcript matches what
// actually ran.
func writeBackArguments(state *checkpoint.ThreadState, callIndex int, args map[string]any) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := &state.Messages[i]
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > callIndex {
			m.ToolCalls[callIndex].Arguments = args
			return
		}
	}
}

// toLLMMessages converts the persisted transcript into the wire shape,
// prefixed with the system prompt.
func toLLMMessages(system string, msgs []checkpoint.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range msgs {
		out = append(out, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolID,
		})
	}
	return out
}
