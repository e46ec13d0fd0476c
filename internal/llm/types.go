// Package llm provides completion service client implementations.
package llm

import (
	"time"
)

// Message represents a chat message for the completion service.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool invocation request from the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier, used to correlate
	// the subsequent tool-result message. Providers that do not assign
	// IDs (Ollama) leave it empty; the agent loop synthesizes one.
	ID       string `json:"id,omitempty"`
	Function struct {
		Name string `json:"name"`
		// Arguments is the parsed argument payload. Providers whose
		// wire format carries a JSON string (OpenAI) parse it at the
		// boundary; a malformed payload becomes an empty set rather
		// than an error.
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the unified response from any completion provider.
// All fields use proper Go types; wire format conversion happens at
// provider boundaries (ollama.go, openai.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

// NewToolCall builds a ToolCall from parts. Test and adapter helper.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	var tc ToolCall
	tc.ID = id
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}
