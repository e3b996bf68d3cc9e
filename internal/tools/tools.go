// Package tools defines the closed set of tools available to the
// agent and the registry that executes them.
package tools

import (
	"context"
	"log/slog"

	"github.com/buddy-ai/buddy/internal/memstore"
)

// Tool names. The set is closed: the registry registers exactly these
// at construction and anything else is an UnknownToolError.
const (
	NameRetrieveContext    = "retrieve_context"
	NameWebSearch          = "web_search"
	NameGetWeather         = "get_weather_for_location"
	NameGetUserLocation    = "get_user_location"
	NameGetUserInfo        = "get_user_info"
	NameSaveUserInfo       = "save_user_info"
	NameRetrieveMemory     = "retrieve_memory"
	NameSaveMemory         = "save_memory"
	NameClearConversation  = "clear_conversation"
	NameUpdateUserName     = "update_user_name"
)

// Gateway is the evidence source used by the retrieval tools.
// Satisfied by retrieval.Gateway.
type Gateway interface {
	Lookup(ctx context.Context, query string) (string, error)
	SearchWeb(ctx context.Context, query string) (string, error)
}

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the registered tools and their shared dependencies.
type Registry struct {
	tools   map[string]*Tool
	order   []string
	gateway Gateway
	memory  memstore.Store
	logger  *slog.Logger
}

// NewRegistry creates the registry with every built-in tool bound to
// the given backends.
func NewRegistry(gateway Gateway, memory memstore.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:   make(map[string]*Tool),
		gateway: gateway,
		memory:  memory,
		logger:  logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

func (r *Registry) registerBuiltins() {
	r.registerRetrievalTools()
	r.registerWeatherTools()
	r.registerUserTools()
	r.registerMemoryTools()
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Definitions returns all tools in registration order, shaped for the
// language model's tool-binding request.
func (r *Registry) Definitions() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. Unknown names return UnknownToolError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &UnknownToolError{Name: name}
	}
	r.logger.Debug("executing tool", "tool", name)
	return tool.Handler(ctx, args)
}

// stringArg extracts a string argument, "" when absent.
func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
