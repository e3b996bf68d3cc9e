// Package summarizer decides whether a finished exchange is worth
// keeping in long-term memory and condenses it into a single fact when
// it is.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/buddy-ai/buddy/internal/llm"
	"github.com/buddy-ai/buddy/internal/memstore"
	"github.com/buddy-ai/buddy/internal/prompts"
)

// rememberKeywords force persistence regardless of the model's
// judgment.
var rememberKeywords = []string{"remember", "记住"}

// HasRememberKeyword reports whether the user explicitly asked for the
// exchange to be remembered.
func HasRememberKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range rememberKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Summarizer runs the persistence judgment and condensation calls.
type Summarizer struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New returns a summarizer using the given model.
func New(client llm.Client, model string, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, model: model, logger: logger}
}

// ShouldPersist asks the model whether the exchange holds durable
// personal facts. Only a reply starting with YES persists; anything
// ambiguous is treated as no.
func (s *Summarizer) ShouldPersist(ctx context.Context, userID, question, answer string) (bool, error) {
	resp, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: llm.RoleUser, Content: prompts.ShouldPersist(userID, question, answer)},
	}, nil)
	if err != nil {
		return false, fmt.Errorf("persistence judgment: %w", err)
	}

	verdict := strings.ToUpper(strings.TrimSpace(resp.Message.Content))
	return strings.HasPrefix(verdict, "YES"), nil
}

// Summarize condenses an exchange into one declarative fact.
func (s *Summarizer) Summarize(ctx context.Context, question, answer string) (string, error) {
	text := fmt.Sprintf("User said: %s\nAssistant replied: %s", question, answer)
	resp, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: llm.RoleUser, Content: prompts.SummarizeMemory(text)},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize memory: %w", err)
	}

	summary := strings.TrimSpace(resp.Message.Content)
	if summary == "" {
		return "", fmt.Errorf("summarize memory: empty summary")
	}
	return summary, nil
}

// Process runs the full persistence flow for a finished exchange: the
// remember-keyword bypass, the judgment call, condensation, and the
// store write. It reports whether a memory was saved.
func (s *Summarizer) Process(ctx context.Context, store memstore.Store, userID, question, answer string) (bool, error) {
	save := HasRememberKeyword(question)
	if !save {
		var err error
		save, err = s.ShouldPersist(ctx, userID, question, answer)
		if err != nil {
			return false, err
		}
	}
	if !save {
		return false, nil
	}

	summary, err := s.Summarize(ctx, question, answer)
	if err != nil {
		return false, err
	}

	rec := memstore.NewRecord(userID, summary)
	if err := store.Put(ctx, rec); err != nil {
		return false, fmt.Errorf("save memory: %w", err)
	}
	s.logger.Info("memory saved", "user_id", userID, "key", rec.Key, "summary", summary)
	return true, nil
}
