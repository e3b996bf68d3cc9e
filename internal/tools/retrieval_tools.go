package tools

import (
	"context"
	"fmt"
)

func (r *Registry) registerRetrievalTools() {
	r.register(&Tool{
		Name:        NameRetrieveContext,
		Description: "Search the knowledge base for information related to a query. Use this for questions that may be covered by stored documents.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleRetrieveContext,
	})

	r.register(&Tool{
		Name:        NameWebSearch,
		Description: "Search the web for current information. Use this when the knowledge base has nothing useful or the question needs up-to-date facts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The web search query",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleWebSearch,
	})
}

func (r *Registry) handleRetrieveContext(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("retrieve_context: missing query")
	}

	Progress(ctx, fmt.Sprintf("Searching knowledge base for: %s", query))
	evidence, err := r.gateway.Lookup(ctx, query)
	if err != nil {
		return "", err
	}
	// Empty evidence goes back as-is; the control loop reads it as a
	// nothing-found signal.
	return evidence, nil
}

func (r *Registry) handleWebSearch(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("web_search: missing query")
	}

	Progress(ctx, fmt.Sprintf("Searching the web for: %s", query))
	return r.gateway.SearchWeb(ctx, query)
}
