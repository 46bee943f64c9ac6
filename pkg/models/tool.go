package models

import "encoding/json"

// ToolCall is a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the output of one tool execution.
// Size accounting uses the stringified length of Content.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Size returns the output length used by the tool output budgeter.
func (r ToolResult) Size() int {
	return len(r.Content)
}
