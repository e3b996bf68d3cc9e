package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/buddy-ai/buddy/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	t := httpkit.NewTransport()
	// Large models with bound tools can think for a while before the
	// first byte arrives.
	t.ResponseHeaderTimeout = 120 * time.Second
	return &OllamaClient{
		baseURL: baseURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute),
			httpkit.WithTransport(t),
		),
	}
}

// Ollama wire types. The public Message/ToolCall types use flat fields;
// Ollama nests tool calls under "function".

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama returns an object, not a string
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Format   map[string]any   `json:"format,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// Chat sends a chat completion request to Ollama. Structured output
// (opts.Format) maps directly onto Ollama's format field.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error) {
	if opts == nil {
		opts = &Options{}
	}
	stream := opts.OnToken != nil

	req := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Stream:   stream,
		Tools:    opts.Tools,
		Format:   opts.Format,
	}
	if opts.MaxTokens > 0 {
		req.Options = map[string]any{"num_predict": opts.MaxTokens}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, body)
	}

	if !stream {
		var chatResp ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return fromOllamaResponse(&chatResp), nil
	}

	return c.readStream(resp.Body, opts.OnToken)
}

// readStream consumes Ollama's newline-delimited JSON stream.
func (c *OllamaClient) readStream(body io.Reader, onToken StreamCallback) (*ChatResponse, error) {
	var final ollamaChatResponse
	var content strings.Builder
	decoder := json.NewDecoder(body)

	for {
		var chunk ollamaChatResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}

		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if onToken != nil {
				onToken(chunk.Message.Content)
			}
		}

		// Tool calls arrive on the final message.
		if len(chunk.Message.ToolCalls) > 0 {
			final.Message.ToolCalls = chunk.Message.ToolCalls
		}

		if chunk.Done {
			toolCalls := final.Message.ToolCalls
			final = chunk
			if len(final.Message.ToolCalls) == 0 {
				final.Message.ToolCalls = toolCalls
			}
			final.Message.Content = content.String()
			break
		}
	}

	return fromOllamaResponse(&final), nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error %d", resp.StatusCode)
	}

	return nil
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func fromOllamaResponse(resp *ollamaChatResponse) *ChatResponse {
	msg := Message{
		Role:    resp.Message.Role,
		Content: resp.Message.Content,
	}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	for _, otc := range resp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			Name:      otc.Function.Name,
			Arguments: otc.Function.Arguments,
		})
	}

	created, _ := time.Parse(time.RFC3339Nano, resp.CreatedAt)

	return &ChatResponse{
		Model:        resp.Model,
		CreatedAt:    created,
		Message:      msg,
		Done:         resp.Done,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
}
