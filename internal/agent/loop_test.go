package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/buddy-ai/buddy/internal/checkpoint"
	"github.com/buddy-ai/buddy/internal/llm"
	"github.com/buddy-ai/buddy/internal/memstore"
	"github.com/buddy-ai/buddy/internal/session"
	"github.com/buddy-ai/buddy/internal/summarizer"
	"github.com/buddy-ai/buddy/internal/tools"
)

// recordingClient replies with a fixed string and records the last
// user prompt it saw.
type recordingClient struct {
	reply      string
	lastPrompt string
}

func (c *recordingClient) Chat(_ context.Context, _ string, messages []llm.Message, _ *llm.Options) (*llm.ChatResponse, error) {
	c.lastPrompt = messages[len(messages)-1].Content
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: c.reply}, Done: true}, nil
}

func (c *recordingClient) Ping(context.Context) error { return nil }

// stageClient routes each Chat call by its shape: structured-output
// calls are grading, tool-bound calls are DECIDE, and plain calls are
// matched on their prompt. This keeps scripts readable across the
// loop's interleaved call sequence.
type stageClient struct {
	decisions     []llm.Message // popped per DECIDE call
	gradeReplies  []string      // popped per grading call ("yes"/"no")
	rewriteReply  string
	answerReply   string
	persistReply  string
	summaryReply  string
	gradeCalls    int
	decideCalls   int
	systemPrompts []string
}

func (c *stageClient) Chat(_ context.Context, _ string, messages []llm.Message, opts *llm.Options) (*llm.ChatResponse, error) {
	reply := func(msg llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Message: msg, Done: true}, nil
	}

	if opts != nil && opts.Format != nil {
		c.gradeCalls++
		verdict := "no"
		if len(c.gradeReplies) > 0 {
			verdict = c.gradeReplies[0]
			c.gradeReplies = c.gradeReplies[1:]
		}
		return reply(llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf(`{"binary_score": %q}`, verdict)})
	}

	if opts != nil && len(opts.Tools) > 0 {
		c.decideCalls++
		if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
			c.systemPrompts = append(c.systemPrompts, messages[0].Content)
		}
		if len(c.decisions) == 0 {
			return reply(llm.Message{Role: llm.RoleAssistant, Content: "I have nothing more to add."})
		}
		msg := c.decisions[0]
		c.decisions = c.decisions[1:]
		return reply(msg)
	}

	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "Formulate"):
		r := c.rewriteReply
		if r == "" {
			r = "rewritten question"
		}
		return reply(llm.Message{Role: llm.RoleAssistant, Content: r})

	case strings.Contains(prompt, "question-answering"):
		a := c.answerReply
		if a == "" {
			a = "Here is what I found."
		}
		return reply(llm.Message{Role: llm.RoleAssistant, Content: a})

	case strings.Contains(prompt, "long-term memory"):
		p := c.persistReply
		if p == "" {
			p = "NO"
		}
		return reply(llm.Message{Role: llm.RoleAssistant, Content: p})

	case strings.Contains(prompt, "Condense"):
		s := c.summaryReply
		if s == "" {
			s = "User fact"
		}
		return reply(llm.Message{Role: llm.RoleAssistant, Content: s})
	}
	return reply(llm.Message{Role: llm.RoleAssistant, Content: "unexpected prompt"})
}

func (c *stageClient) Ping(context.Context) error { return nil }

func toolCallMsg(name string, args map[string]any) llm.Message {
	return llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{
			ID:        "call-" + name,
			Name:      name,
			Arguments: args,
		}},
	}
}

// loopFixture bundles a loop with its fakes and stores.
type loopFixture struct {
	loop     *Loop
	client   *stageClient
	memory   memstore.Store
	sessions *session.Manager
	gateway  *stubGateway
}

type stubGateway struct {
	lookup string
	web    string
}

func (g *stubGateway) Lookup(context.Context, string) (string, error)    { return g.lookup, nil }
func (g *stubGateway) SearchWeb(context.Context, string) (string, error) { return g.web, nil }

type fixtureOpt func(*Config)

func newFixture(t *testing.T, client *stageClient, opts ...fixtureOpt) *loopFixture {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	memory, err := memstore.NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	gateway := &stubGateway{lookup: "Source: kb.md\nContent: " + strings.Repeat("useful detail ", 10)}
	sessions := session.NewManager(checkpoint.NewMemoryStore(), discardLogger())

	cfg := Config{
		Client:      client,
		Model:       "test-model",
		Registry:    tools.NewRegistry(gateway, memory, discardLogger()),
		Grader:      NewGrader(client, "test-model", discardLogger()),
		Rewriter:    NewRewriter(client, "test-model", discardLogger()),
		Memory:      memory,
		Sessions:    sessions,
		Logger:      discardLogger(),
		LoopCeiling: 3,
		ToolBudget:  16,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &loopFixture{
		loop:     New(cfg),
		client:   client,
		memory:   memory,
		sessions: sessions,
		gateway:  gateway,
	}
}

func user1() session.UserContext {
	return session.UserContext{UserID: "1"}
}

func TestDirectAnswer(t *testing.T) {
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{{Role: llm.RoleAssistant, Content: "Hello there!"}},
	})

	res, err := f.loop.Run(context.Background(), user1(), "t1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalAnswer != "Hello there!" {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}
	if len(res.Messages) != 2 {
		t.Errorf("turn messages = %d, want 2", len(res.Messages))
	}

	// Committed state matches.
	state, err := f.sessions.Load(context.Background(), user1(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Messages) != 2 || state.LoopStep != 0 {
		t.Errorf("state = %d messages, loop_step %d", len(state.Messages), state.LoopStep)
	}
}

func TestRetrieveGradeAnswer(t *testing.T) {
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{
			toolCallMsg(tools.NameRetrieveContext, map[string]any{"query": "agents"}),
		},
		gradeReplies: []string{"yes"},
		answerReply:  "Agents use tools.",
	})

	res, err := f.loop.Run(context.Background(), user1(), "t1", "what do agents do?")
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalAnswer != "Agents use tools." {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}
	if f.client.gradeCalls != 1 {
		t.Errorf("grade calls = %d, want 1", f.client.gradeCalls)
	}

	// Transcript shape: user, assistant(tool call), tool, assistant.
	roles := make([]llm.Role, 0, len(res.Messages))
	for _, m := range res.Messages {
		roles = append(roles, m.Role)
	}
	want := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %v, want %v", i, roles[i], want[i])
		}
	}
}

func TestRewriteCeilingBoundsGrading(t *testing.T) {
	// Grader always says no; every decision retrieves again. The turn
	// must still terminate, grading at most ceiling+1 times.
	decisions := make([]llm.Message, 0, 8)
	for i := 0; i < 8; i++ {
		decisions = append(decisions, toolCallMsg(tools.NameRetrieveContext, map[string]any{"query": "q"}))
	}
	f := newFixture(t, &stageClient{decisions: decisions, answerReply: "best effort answer"})

	res, err := f.loop.Run(context.Background(), user1(), "t1", "unanswerable question")
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalAnswer != "best effort answer" {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}
	if f.client.gradeCalls != 4 {
		t.Errorf("grade calls = %d, want ceiling+1 = 4", f.client.gradeCalls)
	}

	state, err := f.sessions.Load(context.Background(), user1(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if state.LoopStep != 3 {
		t.Errorf("loop_step = %d, want 3", state.LoopStep)
	}
}

func TestLoopStepResetsEachTurn(t *testing.T) {
	// Exactly enough decisions for the first turn to hit the ceiling;
	// the second turn answers directly.
	decisions := make([]llm.Message, 0, 4)
	for i := 0; i < 4; i++ {
		decisions = append(decisions, toolCallMsg(tools.NameRetrieveContext, map[string]any{"query": "q"}))
	}
	f := newFixture(t, &stageClient{decisions: decisions})
	ctx := context.Background()

	if _, err := f.loop.Run(ctx, user1(), "t1", "first question"); err != nil {
		t.Fatal(err)
	}

	// Second turn answers directly (script exhausted -> plain reply).
	if _, err := f.loop.Run(ctx, user1(), "t1", "second question"); err != nil {
		t.Fatal(err)
	}
	state, err := f.sessions.Load(ctx, user1(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if state.LoopStep != 0 {
		t.Errorf("loop_step = %d after direct-answer turn, want 0", state.LoopStep)
	}
}

func TestWeatherNeedsLocationScenario(t *testing.T) {
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{
			toolCallMsg(tools.NameGetUserLocation, nil),
			toolCallMsg(tools.NameGetWeather, map[string]any{"city": "Shenzhen"}),
			{Role: llm.RoleAssistant, Content: "The weather in Shenzhen is always sunny!"},
		},
	})

	res, err := f.loop.Run(context.Background(), user1(), "t1", "What's the weather like today?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.FinalAnswer, "always sunny") {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}

	// Location resolved before weather, both as tool messages.
	var toolResults []string
	for _, m := range res.Messages {
		if m.Role == llm.RoleTool {
			toolResults = append(toolResults, m.Content)
		}
	}
	if len(toolResults) != 2 {
		t.Fatalf("tool results = %v", toolResults)
	}
	if toolResults[0] != "Shenzhen" {
		t.Errorf("location result = %q", toolResults[0])
	}
	if toolResults[1] != "The weather in Shenzhen is always sunny!" {
		t.Errorf("weather result = %q", toolResults[1])
	}
	// Non-retrieval tools are never graded.
	if f.client.gradeCalls != 0 {
		t.Errorf("grade calls = %d, want 0", f.client.gradeCalls)
	}
}

func TestRememberThenRecallAcrossThreads(t *testing.T) {
	ctx := context.Background()
	client := &stageClient{
		decisions: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Nice to meet you, Jason!"},
			{Role: llm.RoleAssistant, Content: "Your name is Jason."},
		},
		summaryReply: "User's name is Jason",
	}
	f := newFixture(t, client, func(cfg *Config) {
		cfg.Summarizer = summarizer.New(client, "test-model", discardLogger())
	})

	// Turn 1: explicit remember keyword forces persistence.
	if _, err := f.loop.Run(ctx, user1(), "t1", "Please remember that my name is Jason"); err != nil {
		t.Fatal(err)
	}
	recs, err := f.memory.Search(ctx, memstore.Namespace("1"), "name", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Summary != "User's name is Jason" {
		t.Fatalf("memories = %+v", recs)
	}

	// Turn 2 on a different thread: the memory is injected eagerly.
	if _, err := f.loop.Run(ctx, user1(), "t2", "what is my name?"); err != nil {
		t.Fatal(err)
	}
	last := client.systemPrompts[len(client.systemPrompts)-1]
	if !strings.Contains(last, "User's name is Jason") {
		t.Errorf("system prompt missing recalled memory:\n%s", last)
	}
}

func TestNoMemoriesFallbackInSystemPrompt(t *testing.T) {
	client := &stageClient{}
	f := newFixture(t, client)

	if _, err := f.loop.Run(context.Background(), user1(), "t1", "hello"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(client.systemPrompts[0], "No stored information about this user yet.") {
		t.Errorf("system prompt = %q", client.systemPrompts[0])
	}
}

func TestUnknownToolIsFatal(t *testing.T) {
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{toolCallMsg("launch_rocket", nil)},
	})

	_, err := f.loop.Run(context.Background(), user1(), "t1", "do something")
	var unknownErr *tools.UnknownToolError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("err = %v, want UnknownToolError", err)
	}
}

func TestToolBudgetForcesAnswer(t *testing.T) {
	decisions := make([]llm.Message, 0, 4)
	for i := 0; i < 4; i++ {
		decisions = append(decisions, toolCallMsg(tools.NameGetUserLocation, nil))
	}
	f := newFixture(t, &stageClient{decisions: decisions, answerReply: "budget answer"}, func(cfg *Config) {
		cfg.ToolBudget = 2
	})

	res, err := f.loop.Run(context.Background(), user1(), "t1", "keep calling tools")
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalAnswer != "budget answer" {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "tool budget exhausted") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want budget warning", res.Warnings)
	}
}

func TestBudgetExhaustionPairsEveryCallWithResult(t *testing.T) {
	batch := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
		{ID: "c1", Name: tools.NameGetUserLocation},
		{ID: "c2", Name: tools.NameGetUserLocation},
		{ID: "c3", Name: tools.NameGetUserLocation},
	}}
	f := newFixture(t, &stageClient{decisions: []llm.Message{batch}, answerReply: "done"}, func(cfg *Config) {
		cfg.ToolBudget = 1
	})

	res, err := f.loop.Run(context.Background(), user1(), "t1", "triple lookup")
	if err != nil {
		t.Fatal(err)
	}

	resultIDs := make(map[string]bool)
	calls := 0
	for _, m := range res.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			calls += len(m.ToolCalls)
		case llm.RoleTool:
			resultIDs[m.ToolID] = true
		}
	}
	if calls != 3 {
		t.Fatalf("tool calls in transcript = %d, want 3", calls)
	}
	if len(resultIDs) != 3 {
		t.Errorf("tool results = %d, want one per call", len(resultIDs))
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		if !resultIDs[id] {
			t.Errorf("call %s has no tool result", id)
		}
	}
}

func TestClearConversationKeepsMemories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{toolCallMsg(tools.NameClearConversation, nil)},
	})

	if err := f.memory.Put(ctx, memstore.NewRecord("1", "User prefers tea")); err != nil {
		t.Fatal(err)
	}

	res, err := f.loop.Run(ctx, user1(), "t1", "clear this conversation")
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalAnswer != "Conversation cleared." {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}

	state, err := f.sessions.Load(ctx, user1(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Messages) != 0 {
		t.Errorf("messages survived clear: %d", len(state.Messages))
	}

	recs, err := f.memory.Search(ctx, memstore.Namespace("1"), "tea", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("memories = %d, want 1 (preserved)", len(recs))
	}
}

func TestApprovalInterruptAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{
			toolCallMsg(tools.NameSaveMemory, map[string]any{"content": "User likes hiking"}),
			{Role: llm.RoleAssistant, Content: "Saved it."},
		},
	}, func(cfg *Config) {
		cfg.ApprovalRequired = []string{tools.NameSaveMemory}
	})

	res, err := f.loop.Run(ctx, user1(), "t1", "save that I like hiking")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Interrupted {
		t.Fatal("expected interrupted turn")
	}
	if res.Pending == nil || res.Pending.Call.Name != tools.NameSaveMemory {
		t.Fatalf("pending = %+v", res.Pending)
	}

	// A new turn on a suspended thread is refused.
	if _, err := f.loop.Run(ctx, user1(), "t1", "another message"); !errors.Is(err, ErrPendingApproval) {
		t.Fatalf("Run on suspended thread = %v, want ErrPendingApproval", err)
	}

	// The interrupt survives a process restart via the checkpoint.
	state, err := f.sessions.Load(ctx, user1(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Pending == nil {
		t.Fatal("pending approval not persisted")
	}

	res, err = f.loop.Resume(ctx, user1(), "t1", Decision{Kind: DecisionApprove})
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupted {
		t.Fatal("resume should complete the turn")
	}
	if res.FinalAnswer != "Saved it." {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}

	// The approved tool actually ran.
	recs, err := f.memory.Search(ctx, memstore.Namespace("1"), "hiking", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("memories = %d, want 1", len(recs))
	}
}

func TestResumeWithEditedArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{
			toolCallMsg(tools.NameSaveMemory, map[string]any{"content": "wrong fact"}),
			{Role: llm.RoleAssistant, Content: "Done."},
		},
	}, func(cfg *Config) {
		cfg.ApprovalRequired = []string{tools.NameSaveMemory}
	})

	res, err := f.loop.Run(ctx, user1(), "t1", "save something")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Interrupted {
		t.Fatal("expected interrupt")
	}

	res, err = f.loop.Resume(ctx, user1(), "t1", Decision{
		Kind:      DecisionEdit,
		Arguments: map[string]any{"content": "corrected fact"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupted {
		t.Fatal("resume should complete")
	}

	recs, err := f.memory.Search(ctx, memstore.Namespace("1"), "corrected", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Summary != "corrected fact" {
		t.Fatalf("memories = %+v", recs)
	}
}

func TestResumeReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stageClient{
		decisions: []llm.Message{
			toolCallMsg(tools.NameSaveMemory, map[string]any{"content": "fact"}),
			{Role: llm.RoleAssistant, Content: "Understood, not saving."},
		},
	}, func(cfg *Config) {
		cfg.ApprovalRequired = []string{tools.NameSaveMemory}
	})

	if _, err := f.loop.Run(ctx, user1(), "t1", "save something"); err != nil {
		t.Fatal(err)
	}

	res, err := f.loop.Resume(ctx, user1(), "t1", Decision{
		Kind:     DecisionReject,
		Feedback: "don't store this",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalAnswer != "Understood, not saving." {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}

	// Nothing was written.
	recs, err := f.memory.Search(ctx, memstore.Namespace("1"), "fact", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("memories = %d, want 0", len(recs))
	}

	// The rejection reached the transcript as a tool result.
	state, err := f.sessions.Load(ctx, user1(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	var rejected bool
	for _, m := range state.Messages {
		if m.Role == llm.RoleTool && strings.Contains(m.Content, "don't store this") {
			rejected = true
		}
	}
	if !rejected {
		t.Error("rejection feedback missing from transcript")
	}
}

func TestResumeWithoutPending(t *testing.T) {
	f := newFixture(t, &stageClient{})
	_, err := f.loop.Resume(context.Background(), user1(), "t1", Decision{Kind: DecisionApprove})
	if !errors.Is(err, ErrNoPendingApproval) {
		t.Errorf("err = %v, want ErrNoPendingApproval", err)
	}
}

func TestFinalAnswerFallback(t *testing.T) {
	state := checkpoint.NewThreadState("t", "1")
	state.Append(checkpoint.NewMessage(llm.RoleUser, "q"))
	if got := finalAnswer(state); got == "" {
		t.Fatal("fallback answer must not be empty")
	}
}
