package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/agent"
	"github.com/buddy-ai/buddy/internal/events"
	"github.com/buddy-ai/buddy/internal/llm"
	"github.com/buddy-ai/buddy/internal/session"
)

// quitSentinel ends the chat REPL.
const quitSentinel = "quit"

// runChat is the interactive REPL. Each session gets a fresh thread;
// the user id keys long-term memory so the same id recalls facts from
// earlier sessions.
func runChat(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	a, err := buildApp(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	// Render tool progress as it happens; everything else is quiet.
	eventCh := a.bus.Subscribe(64)
	defer a.bus.Unsubscribe(eventCh)
	go func() {
		for ev := range eventCh {
			if ev.Kind == events.KindToolProgress {
				fmt.Fprintf(stdout, "  [%v] %v\n", ev.Data["tool"], ev.Data["text"])
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)

	fmt.Fprint(stdout, "User id: ")
	if !scanner.Scan() {
		return nil
	}
	userID := strings.TrimSpace(scanner.Text())
	if userID == "" {
		userID = "default"
	}

	user := session.UserContext{UserID: userID}
	threadID := newThreadID()
	fmt.Fprintf(stdout, "Starting thread %s. Type %q to exit.\n\n", threadID, quitSentinel)

	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == quitSentinel {
			fmt.Fprintln(stdout, "Bye!")
			break
		}

		res, err := a.loop.Run(ctx, user, threadID, text)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(stderr, "error: %v\n", err)
			continue
		}

		res, err = resolveInterrupts(ctx, a, scanner, stdout, stderr, user, threadID, res)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			continue
		}

		printTurn(stdout, res)
	}
	return scanner.Err()
}

// resolveInterrupts loops Resume until the turn actually completes,
// prompting for a decision each time it suspends.
func resolveInterrupts(ctx context.Context, a *app, scanner *bufio.Scanner, stdout, stderr io.Writer, user session.UserContext, threadID string, res *agent.TurnResult) (*agent.TurnResult, error) {
	for res.Interrupted {
		call := res.Pending.Call
		args, _ := json.Marshal(call.Arguments)
		fmt.Fprintf(stdout, "\nApproval required: %s(%s)\n", call.Name, args)
		fmt.Fprint(stdout, "approve / edit <json> / reject [feedback]: ")

		if !scanner.Scan() {
			return nil, fmt.Errorf("input closed with approval pending")
		}
		line := strings.TrimSpace(scanner.Text())

		decision, err := parseDecision(line)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			continue
		}

		res, err = a.loop.Resume(ctx, user, threadID, decision)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func parseDecision(line string) (agent.Decision, error) {
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "approve", "yes", "y":
		return agent.Decision{Kind: agent.DecisionApprove}, nil
	case "edit":
		var args map[string]any
		if err := json.Unmarshal([]byte(rest), &args); err != nil {
			return agent.Decision{}, fmt.Errorf("edit needs a JSON object: %v", err)
		}
		return agent.Decision{Kind: agent.DecisionEdit, Arguments: args}, nil
	case "reject", "no", "n":
		return agent.Decision{Kind: agent.DecisionReject, Feedback: rest}, nil
	default:
		return agent.Decision{}, fmt.Errorf("unknown decision %q (approve / edit / reject)", verb)
	}
}

// printTurn streams the turn's intermediate messages, then the final
// answer.
func printTurn(stdout io.Writer, res *agent.TurnResult) {
	for _, m := range res.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			for _, call := range m.ToolCalls {
				args, _ := json.Marshal(call.Arguments)
				fmt.Fprintf(stdout, "  [calling %s(%s)]\n", call.Name, args)
			}
		case llm.RoleTool:
			fmt.Fprintf(stdout, "  [%s] %s\n", m.ToolName, firstLine(m.Content))
		}
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(stdout, "  (warning: %s)\n", w)
	}
	fmt.Fprintf(stdout, "\n%s\n\n", res.FinalAnswer)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func newThreadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

func statPath(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return info, nil
}
