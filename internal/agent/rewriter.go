package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/buddy-ai/buddy/internal/llm"
	"github.com/buddy-ai/buddy/internal/prompts"
)

// Strategy selects how the rewriter reformulates a failed question.
type Strategy string

const (
	StrategyRefineRetrieval Strategy = "refine_retrieval"
	StrategyWebSearch       Strategy = "switch_to_web_search"
)

// shortEvidenceThreshold is the rune count below which evidence is
// considered too thin to be worth another knowledge base pass.
const shortEvidenceThreshold = 50

// nothingFoundMarkers are substrings retrieval backends use to report
// an empty result in prose.
var nothingFoundMarkers = []string{"没有找到", "nothing found", "no relevant"}

// SelectStrategy inspects the latest evidence and picks the rewrite
// strategy: thin or empty evidence means the knowledge base has
// nothing, so the next attempt goes to the web.
func SelectStrategy(evidence string) Strategy {
	trimmed := strings.TrimSpace(evidence)
	if trimmed == "" {
		return StrategyWebSearch
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range nothingFoundMarkers {
		if strings.Contains(lower, marker) {
			return StrategyWebSearch
		}
	}
	if utf8.RuneCountInString(trimmed) < shortEvidenceThreshold {
		return StrategyWebSearch
	}
	return StrategyRefineRetrieval
}

// Rewriter reformulates questions whose evidence graded not_relevant.
type Rewriter struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewRewriter returns a rewriter using the given model.
func NewRewriter(client llm.Client, model string, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{client: client, model: model, logger: logger}
}

// Rewrite produces a reformulated question per the given strategy. The
// input is always the turn's original question, not a previous
// rewrite.
func (r *Rewriter) Rewrite(ctx context.Context, question string, strategy Strategy) (string, error) {
	var prompt string
	switch strategy {
	case StrategyWebSearch:
		prompt = prompts.RewriteWebSearch(question)
	default:
		prompt = prompts.RewriteRefine(question)
	}

	resp, err := r.client.Chat(ctx, r.model, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}

	rewritten := strings.TrimSpace(resp.Message.Content)
	if rewritten == "" {
		// A blank rewrite would stall the loop; fall back to the
		// original question.
		r.logger.Warn("rewriter returned empty question, keeping original")
		return question, nil
	}
	r.logger.Debug("question rewritten", "strategy", strategy, "rewritten", rewritten)
	return rewritten, nil
}
