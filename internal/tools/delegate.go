package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tenex-chat/tenex/internal/agent"
	"github.com/tenex-chat/tenex/internal/delegation"
	"github.com/tenex-chat/tenex/internal/nostr"
	"github.com/tenex-chat/tenex/pkg/models"
)

// DefaultDelegationTimeout applies when the call does not set one.
const DefaultDelegationTimeout = 5 * time.Minute

// DelegateTool sends a request to one or more other agents and waits
// for their responses, aggregated by the delegation registry.
type DelegateTool struct {
	registry  *delegation.Registry
	publisher nostr.Publisher
	signer    nostr.Signer
}

// NewDelegateTool creates the delegate tool.
func NewDelegateTool(registry *delegation.Registry, publisher nostr.Publisher, signer nostr.Signer) *DelegateTool {
	return &DelegateTool{registry: registry, publisher: publisher, signer: signer}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	return "Delegate a request to one or more other agents and wait for their responses. " +
		"Returns each agent's response, or the partial set if the delegation times out."
}

func (t *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"recipients": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1,
				"description": "Public keys of the agents to delegate to."
			},
			"request": {
				"type": "string",
				"minLength": 1,
				"description": "The request to send."
			},
			"timeout_seconds": {
				"type": "integer",
				"minimum": 1,
				"description": "How long to wait for all responses. Default 300."
			}
		},
		"required": ["recipients", "request"],
		"additionalProperties": false
	}`)
}

type delegateParams struct {
	Recipients     []string `json:"recipients"`
	Request        string   `json:"request"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type delegateValue struct {
	DelegationID string            `json:"delegation_id"`
	Status       string            `json:"status"`
	Responses    map[string]string `json:"responses"`
}

func (t *DelegateTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var input delegateParams
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, ValidationError("", "invalid parameters: "+err.Error())
	}

	info, ok := agent.TurnInfoFrom(ctx)
	if !ok {
		return nil, &Error{Kind: KindSystem, Message: "no turn context for delegation"}
	}

	targets := make([]string, 0, len(input.Recipients))
	for _, recipient := range input.Recipients {
		if trimmed := strings.TrimSpace(recipient); trimmed != "" {
			targets = append(targets, trimmed)
		}
	}
	if len(targets) == 0 {
		return nil, ValidationError("recipients", "at least one non-empty recipient is required")
	}

	timeout := DefaultDelegationTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}

	handle, err := t.registry.Register(info.ConversationID, info.AgentPubkey, targets, input.Request, timeout)
	if err != nil {
		return nil, ValidationError("recipients", err.Error())
	}

	if err := t.publishRequest(ctx, info, targets, input.Request); err != nil {
		t.registry.Cancel(handle.ID)
		return nil, TransportError(t.Name(), "failed to publish delegation request", err)
	}

	select {
	case <-ctx.Done():
		t.registry.Cancel(handle.ID)
		return nil, ctx.Err()
	case result := <-handle.Done:
		responses := make(map[string]string, len(result.Responses))
		for pubkey, ev := range result.Responses {
			responses[pubkey] = ev.Content
		}
		return delegateValue{
			DelegationID: result.DelegationID,
			Status:       string(result.Status),
			Responses:    responses,
		}, nil
	}
}

// publishRequest emits the delegation request as a threaded reply that
// p-tags every target.
func (t *DelegateTool) publishRequest(ctx context.Context, info agent.TurnInfo, targets []string, request string) error {
	ev := &models.Event{
		Kind:      models.KindReply,
		Content:   request,
		CreatedAt: time.Now().Unix(),
		Tags:      []models.Tag{{models.TagRoot, info.ConversationID}},
	}
	if info.TriggerEventID != "" {
		ev.Tags = append(ev.Tags, models.Tag{models.TagParent, info.TriggerEventID})
	}
	for _, target := range targets {
		ev.Tags = append(ev.Tags, models.Tag{models.TagPubkey, target})
	}
	if err := t.signer.Sign(ev); err != nil {
		return err
	}
	return t.publisher.Publish(ctx, ev)
}
