package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tenex-chat/tenex/internal/agent"
	"github.com/tenex-chat/tenex/internal/conversation"
	"github.com/tenex-chat/tenex/pkg/models"
)

// TodoWriteTool replaces the calling agent's todo list for the current
// conversation. It is write-only replace: omitting existing ids without
// force is rejected so items cannot be dropped by accident.
type TodoWriteTool struct {
	store *conversation.Store
}

// NewTodoWriteTool creates the todo_write tool.
func NewTodoWriteTool(store *conversation.Store) *TodoWriteTool {
	return &TodoWriteTool{store: store}
}

func (t *TodoWriteTool) Name() string { return "todo_write" }

func (t *TodoWriteTool) Description() string {
	return "Replace your todo list for this conversation. The new list must include every " +
		"existing item id unless force is true. Skipped items require a skip_reason."
}

func (t *TodoWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"todos": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string", "minLength": 1},
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "done", "skipped"]},
						"skip_reason": {"type": "string"}
					},
					"required": ["id", "title", "status"],
					"additionalProperties": false
				}
			},
			"force": {
				"type": "boolean",
				"description": "Allow dropping existing items that are missing from the new list."
			}
		},
		"required": ["todos"],
		"additionalProperties": false
	}`)
}

type todoWriteParams struct {
	Todos []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Status      string `json:"status"`
		SkipReason  string `json:"skip_reason"`
	} `json:"todos"`
	Force bool `json:"force"`
}

func (t *TodoWriteTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var input todoWriteParams
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, ValidationError("", "invalid parameters: "+err.Error())
	}

	info, ok := agent.TurnInfoFrom(ctx)
	if !ok {
		return nil, &Error{Kind: KindSystem, Message: "no turn context for todo write"}
	}

	items := make([]models.TodoItem, len(input.Todos))
	for i, item := range input.Todos {
		items[i] = models.TodoItem{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			Status:      models.TodoStatus(item.Status),
			SkipReason:  item.SkipReason,
		}
	}

	err := t.store.WriteTodos(ctx, info.ConversationID, info.AgentPubkey, items, input.Force)
	if err != nil {
		var todoErr *conversation.TodoError
		if errors.As(err, &todoErr) {
			return nil, ValidationError("todos", todoErr.Error())
		}
		return nil, err
	}

	return map[string]any{"count": len(items)}, nil
}
