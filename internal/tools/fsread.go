package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tenex-chat/tenex/internal/agent"
	"github.com/tenex-chat/tenex/internal/conversation"
	"github.com/tenex-chat/tenex/internal/toolmsg"
	"github.com/tenex-chat/tenex/pkg/models"
)

// readScratchKey is the AgentState.Scratch entry listing tool event ids
// this agent already retrieved.
const readScratchKey = "read_tool_events"

// FsReadTool retrieves the full output of a previously truncated tool
// result by its event id.
type FsReadTool struct {
	msgs  toolmsg.Store
	store *conversation.Store
}

// NewFsReadTool creates the fs_read tool. The conversation store is
// optional; when present, retrievals are tracked on the agent's state.
func NewFsReadTool(msgs toolmsg.Store, store *conversation.Store) *FsReadTool {
	return &FsReadTool{msgs: msgs, store: store}
}

func (t *FsReadTool) Name() string { return "fs_read" }

func (t *FsReadTool) Description() string {
	return "Retrieve the full output of an earlier tool call that was truncated, by its event id."
}

func (t *FsReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tool": {
				"type": "string",
				"minLength": 1,
				"description": "The tool event id from the truncation placeholder."
			}
		},
		"required": ["tool"],
		"additionalProperties": false
	}`)
}

type fsReadValue struct {
	EventID string   `json:"event_id"`
	Outputs []string `json:"outputs"`
}

func (t *FsReadTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var input struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, ValidationError("", "invalid parameters: "+err.Error())
	}
	eventID := strings.TrimSpace(input.Tool)
	if eventID == "" {
		return nil, ValidationError("tool", "event id is required")
	}

	messages, err := t.msgs.Load(ctx, eventID)
	if err != nil {
		if errors.Is(err, toolmsg.ErrNotFound) {
			return nil, ExecutionError(t.Name(), "no tool output stored for event "+eventID, nil)
		}
		return nil, err
	}

	value := fsReadValue{EventID: eventID}
	for _, msg := range messages {
		for _, result := range msg.ToolResults {
			value.Outputs = append(value.Outputs, result.Content)
		}
	}
	if len(value.Outputs) == 0 {
		for _, msg := range messages {
			if msg.Content != "" {
				value.Outputs = append(value.Outputs, msg.Content)
			}
		}
	}

	t.trackRead(ctx, eventID)
	return value, nil
}

// trackRead remembers the retrieval on the agent's scratch state.
// Best effort: failures do not affect the result.
func (t *FsReadTool) trackRead(ctx context.Context, eventID string) {
	if t.store == nil {
		return
	}
	info, ok := agent.TurnInfoFrom(ctx)
	if !ok {
		return
	}
	_ = t.store.UpdateAgentState(ctx, info.ConversationID, info.AgentSlug, func(state *models.AgentState) {
		if state.Scratch == nil {
			state.Scratch = make(map[string]any)
		}
		seen, _ := state.Scratch[readScratchKey].([]string)
		for _, id := range seen {
			if id == eventID {
				return
			}
		}
		state.Scratch[readScratchKey] = append(seen, eventID)
	})
}
