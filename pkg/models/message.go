package models

// Role indicates the author type of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single prompt message ready for a model provider.
// The context builder materializes these from the shared event history,
// one stream per viewing agent.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// NewMessage builds a plain text message.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}
