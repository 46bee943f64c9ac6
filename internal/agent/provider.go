// Package agent runs model turns: it builds prompts, streams provider
// output, executes tool calls, and publishes the resulting events.
package agent

import (
	"context"
	"encoding/json"

	"github.com/tenex-chat/tenex/pkg/models"
)

// LLMProvider is the interface for model backends. Implementations must
// be safe for concurrent use; each Complete call owns an independent
// stream.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The
	// returned channel is closed when the stream ends.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for one model call.
type CompletionRequest struct {
	// Model selects the model; empty uses the provider default.
	Model string `json:"model"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools lists the tool definitions the model may call.
	Tools []ToolSpec `json:"tools,omitempty"`

	// MaxTokens bounds the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// SessionID resumes a provider-side session when the backend
	// supports continuity. Empty starts fresh.
	SessionID string `json:"session_id,omitempty"`
}

// CompletionChunk is a single element of a streaming response.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// Reasoning contains partial reasoning/thinking text, streamed
	// separately from the response text.
	Reasoning string `json:"reasoning,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// SessionID is the provider session for continuity, populated on
	// the final chunk when the backend supports it.
	SessionID string `json:"session_id,omitempty"`

	// InputTokens and OutputTokens are populated on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available model and its capabilities.
type Model struct {
	// ID is the API identifier (e.g., "claude-sonnet-4-20250514").
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`
}

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	// Name is the function identifier, alphanumeric and underscores.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// Schema is the JSON Schema for the tool's parameters.
	Schema json.RawMessage `json:"schema"`
}

// ToolExecutor runs tool calls requested by the model. The tool
// framework implements this; the engine never retries failures, it
// surfaces them to the model as failure-shaped results.
type ToolExecutor interface {
	// Execute validates and runs one tool call. Failures come back as
	// a result with IsError set, never as a Go error.
	Execute(ctx context.Context, call *models.ToolCall) *models.ToolResult

	// Specs returns the definitions of all registered tools.
	Specs() []ToolSpec
}
