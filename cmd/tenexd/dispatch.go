package main

import (
	"context"
	"fmt"

	"github.com/tenex-chat/tenex/internal/agent"
	"github.com/tenex-chat/tenex/internal/conversation"
	"github.com/tenex-chat/tenex/internal/delegation"
	"github.com/tenex-chat/tenex/internal/nostr"
	"github.com/tenex-chat/tenex/internal/observability"
	"github.com/tenex-chat/tenex/pkg/models"
)

// agentRuntime pairs one configured agent with its execution engine.
type agentRuntime struct {
	cfg    agentIdentity
	engine *agent.Engine
}

// agentIdentity is the subset of agent configuration the dispatcher
// needs. Kept separate from the yaml loader so dispatch logic stays
// testable on its own.
type agentIdentity struct {
	Slug              string
	Pubkey            string
	PhaseInstructions map[string]string
}

// Dispatcher subscribes to conversation events and routes each one to
// the agents it addresses. Delegation responses are consumed by the
// registry instead of starting a turn for the awaiting agent.
type Dispatcher struct {
	store       *conversation.Store
	delegations *delegation.Registry
	transport   nostr.Transport
	agents      map[string]*agentRuntime // by pubkey
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// Run subscribes and dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, err := d.transport.Subscribe(ctx, nostr.Filter{
		Kinds: []models.EventKind{models.KindThread, models.KindReply},
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for ev := range events {
		d.Handle(ctx, ev)
	}
	return ctx.Err()
}

// Handle processes one inbound event.
func (d *Dispatcher) Handle(ctx context.Context, ev *models.Event) {
	if d.metrics != nil {
		d.metrics.EventReceived(fmt.Sprint(ev.Kind))
	}

	consumed := d.routeDelegationResponses(ev)

	conv, err := d.resolveConversation(ctx, ev)
	if err != nil {
		d.logger.Warn(ctx, "dropping event without conversation",
			"event", ev.ID, "error", err)
		return
	}
	for _, id := range conv.ProcessedEventIDs {
		if id == ev.ID {
			return
		}
	}

	for _, target := range ev.PTags() {
		if target == ev.Pubkey || consumed[target] {
			continue
		}
		runtime, ok := d.agents[target]
		if !ok {
			continue
		}
		go d.runTurn(ctx, runtime, conv, ev)
	}
}

// routeDelegationResponses feeds the event to the delegation registry
// for every addressed agent and returns the pubkeys whose pending
// delegation consumed it.
func (d *Dispatcher) routeDelegationResponses(ev *models.Event) map[string]bool {
	consumed := make(map[string]bool)
	convID, ok := ev.RootID()
	if !ok {
		return consumed
	}
	for _, target := range ev.PTags() {
		if _, isAgent := d.agents[target]; !isAgent {
			continue
		}
		outcome := d.delegations.RecordResponse(convID, target, ev.Pubkey, ev)
		if outcome != delegation.ResponseIgnored {
			consumed[target] = true
		}
	}
	return consumed
}

func (d *Dispatcher) resolveConversation(ctx context.Context, ev *models.Event) (*models.Conversation, error) {
	if ev.Kind == models.KindThread {
		return d.store.Create(ctx, ev), nil
	}
	conv, err := d.store.ConversationForEvent(ev)
	if err != nil {
		return nil, err
	}
	return d.store.UpsertEvent(ctx, conv.ID, ev)
}

func (d *Dispatcher) runTurn(ctx context.Context, runtime *agentRuntime, conv *models.Conversation, ev *models.Event) {
	turn := &agent.Turn{
		AgentPubkey:       runtime.cfg.Pubkey,
		AgentSlug:         runtime.cfg.Slug,
		ConversationID:    conv.ID,
		Triggering:        ev,
		PhaseInstructions: runtime.cfg.PhaseInstructions[conv.Phase],
		MissedEvents:      d.missedEvents(conv, runtime.cfg, ev),
	}
	if err := runtime.engine.Execute(ctx, turn); err != nil {
		d.logger.Warn(ctx, "turn failed",
			"agent", runtime.cfg.Slug,
			"conversation", conv.ID,
			"event", ev.ID,
			"error", err)
	}
}

// missedEvents returns the history the agent has not yet seen, for the
// resume-after-missed-history prompt variant. A first turn returns nil
// so the regular variant applies.
func (d *Dispatcher) missedEvents(conv *models.Conversation, cfg agentIdentity, trigger *models.Event) []*models.Event {
	state, err := d.store.AgentState(conv.ID, cfg.Slug)
	if err != nil || state.LastProcessedMessageIndex == 0 {
		return nil
	}
	var missed []*models.Event
	for i := state.LastProcessedMessageIndex; i < len(conv.History); i++ {
		ev := conv.History[i]
		if ev.ID == trigger.ID || ev.Pubkey == cfg.Pubkey {
			continue
		}
		missed = append(missed, ev)
	}
	return missed
}
