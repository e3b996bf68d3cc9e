package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/buddy-ai/buddy/internal/llm"
	"github.com/buddy-ai/buddy/internal/prompts"
)

// Verdict is the grader's binary relevance judgment.
type Verdict string

const (
	VerdictRelevant    Verdict = "relevant"
	VerdictNotRelevant Verdict = "not_relevant"
)

// Grader classifies retrieved evidence against the question that
// prompted it.
type Grader struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewGrader returns a grader using the given model.
func NewGrader(client llm.Client, model string, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{client: client, model: model, logger: logger}
}

type gradeVerdict struct {
	BinaryScore string `json:"binary_score"`
}

// Grade returns the relevance verdict for (question, evidence). Both
// transport errors and out-of-schema model replies are retried once;
// a second schema violation falls back to not_relevant, the
// conservative default, while a second transport error is returned to
// the caller.
func (g *Grader) Grade(ctx context.Context, question, evidence string) (Verdict, error) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: prompts.Grade(question, evidence)},
	}
	opts := &llm.Options{Format: prompts.GradeSchema()}

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := g.client.Chat(ctx, g.model, messages, opts)
		if err != nil {
			if attempt == 0 {
				g.logger.Warn("grader call failed, retrying", "error", err)
				continue
			}
			return VerdictNotRelevant, fmt.Errorf("grade: %w", err)
		}

		verdict, ok := parseVerdict(resp.Message.Content)
		if ok {
			return verdict, nil
		}
		g.logger.Warn("grader returned out-of-schema verdict",
			"attempt", attempt+1,
			"content", resp.Message.Content)
	}

	// Protocol violation twice: force a retry downstream rather than
	// accept unreviewed evidence.
	return VerdictNotRelevant, nil
}

// parseVerdict accepts the structured {"binary_score": "yes"|"no"}
// reply, or a bare yes/no for models that ignore the schema.
func parseVerdict(content string) (Verdict, bool) {
	var v gradeVerdict
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		switch strings.ToLower(strings.TrimSpace(v.BinaryScore)) {
		case "yes":
			return VerdictRelevant, true
		case "no":
			return VerdictNotRelevant, true
		}
		return VerdictNotRelevant, false
	}

	switch strings.ToLower(strings.TrimSpace(content)) {
	case "yes":
		return VerdictRelevant, true
	case "no":
		return VerdictNotRelevant, true
	}
	return VerdictNotRelevant, false
}
