// Package llm provides generative model client implementations.
package llm

// Role values used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-result messages
}

// ToolCall is a structured tool invocation request from the model,
// distinct from a plain-text answer.
type ToolCall struct {
	ID        string         `json:"id,omitempty"` // provider-assigned, required for result correlation
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider. Wire-format
// conversion happens at provider boundaries (anthropic.go, ollama.go).
type ChatResponse struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int
}

// StreamCallback receives incremental text tokens during a streaming
// response. Tool calls are never streamed; they arrive complete on the
// final ChatResponse.
type StreamCallback func(token string)
