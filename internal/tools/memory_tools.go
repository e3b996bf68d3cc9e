package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/buddy-ai/buddy/internal/memstore"
)

func (r *Registry) registerMemoryTools() {
	r.register(&Tool{
		Name:        NameRetrieveMemory,
		Description: "Search the current user's long-term memories. Use this when a question involves personal information, preferences, or past conversations.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for in the user's memories",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleRetrieveMemory,
	})

	r.register(&Tool{
		Name:        NameSaveMemory,
		Description: "Save a fact about the current user to long-term memory. The fact should be one short declarative sentence.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The fact to remember",
				},
			},
			"required": []string{"content"},
		},
		Handler: r.handleSaveMemory,
	})
}

func (r *Registry) registerUserTools() {
	r.register(&Tool{
		Name:        NameGetUserInfo,
		Description: "Get the stored profile information for the current user (name, preferences, and other saved facts).",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleGetUserInfo,
	})

	r.register(&Tool{
		Name:        NameSaveUserInfo,
		Description: "Save profile information the user shared about themselves (name, age, occupation, preferences).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"info": map[string]any{
					"type":        "string",
					"description": "The profile fact to store, as one short sentence",
				},
			},
			"required": []string{"info"},
		},
		Handler: r.handleSaveUserInfo,
	})

	r.register(&Tool{
		Name:        NameUpdateUserName,
		Description: "Update what the assistant calls the current user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "The name to use for the user from now on",
				},
			},
			"required": []string{"name"},
		},
		Handler: r.handleUpdateUserName,
	})

	r.register(&Tool{
		Name:        NameClearConversation,
		Description: "Erase the current conversation's messages. Long-term memories are kept.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		// The control loop intercepts this name and wipes the thread
		// itself; the handler only produces the confirmation text.
		Handler: func(context.Context, map[string]any) (string, error) {
			return "Conversation cleared.", nil
		},
	})
}

func (r *Registry) handleRetrieveMemory(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("retrieve_memory: missing query")
	}

	userID := UserIDFromContext(ctx)
	recs, err := r.memory.Search(ctx, memstore.Namespace(userID), query, 5)
	if err != nil {
		return "", fmt.Errorf("retrieve_memory: %w", err)
	}
	if len(recs) == 0 {
		return "No relevant memories found.", nil
	}

	var sb strings.Builder
	for _, rec := range recs {
		sb.WriteString("- ")
		sb.WriteString(rec.Summary)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (r *Registry) handleSaveMemory(ctx context.Context, args map[string]any) (string, error) {
	content := stringArg(args, "content")
	if content == "" {
		return "", fmt.Errorf("save_memory: missing content")
	}

	userID := UserIDFromContext(ctx)
	if err := r.memory.Put(ctx, memstore.NewRecord(userID, content)); err != nil {
		return "", fmt.Errorf("save_memory: %w", err)
	}
	return fmt.Sprintf("Saved: %s", content), nil
}

func (r *Registry) handleGetUserInfo(ctx context.Context, _ map[string]any) (string, error) {
	userID := UserIDFromContext(ctx)
	recs, err := r.memory.Search(ctx, memstore.Namespace(userID), "name age occupation preferences", 10)
	if err != nil {
		return "", fmt.Errorf("get_user_info: %w", err)
	}
	if len(recs) == 0 {
		return "No stored information about this user yet.", nil
	}

	var sb strings.Builder
	for _, rec := range recs {
		sb.WriteString("- ")
		sb.WriteString(rec.Summary)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (r *Registry) handleSaveUserInfo(ctx context.Context, args map[string]any) (string, error) {
	info := stringArg(args, "info")
	if info == "" {
		return "", fmt.Errorf("save_user_info: missing info")
	}

	userID := UserIDFromContext(ctx)
	if err := r.memory.Put(ctx, memstore.NewRecord(userID, info)); err != nil {
		return "", fmt.Errorf("save_user_info: %w", err)
	}
	return fmt.Sprintf("Saved profile information: %s", info), nil
}

func (r *Registry) handleUpdateUserName(ctx context.Context, args map[string]any) (string, error) {
	name := stringArg(args, "name")
	if name == "" {
		return "", fmt.Errorf("update_user_name: missing name")
	}

	userID := UserIDFromContext(ctx)
	fact := fmt.Sprintf("User's name is %s", name)
	if err := r.memory.Put(ctx, memstore.NewRecord(userID, fact)); err != nil {
		return "", fmt.Errorf("update_user_name: %w", err)
	}
	return fmt.Sprintf("I'll call you %s from now on.", name), nil
}
