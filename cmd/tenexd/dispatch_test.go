package main

import (
	"context"
	"testing"
	"time"

	"github.com/tenex-chat/tenex/internal/agent"
	"github.com/tenex-chat/tenex/internal/conversation"
	"github.com/tenex-chat/tenex/internal/delegation"
	"github.com/tenex-chat/tenex/internal/nostr"
	"github.com/tenex-chat/tenex/internal/observability"
	"github.com/tenex-chat/tenex/internal/prompt"
	"github.com/tenex-chat/tenex/internal/toolmsg"
	"github.com/tenex-chat/tenex/pkg/models"
)

// cannedProvider replies with a fixed text stream on every call.
type cannedProvider struct{ text string }

func (p *cannedProvider) Complete(_ context.Context, _ *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	out := make(chan *agent.CompletionChunk, 2)
	out <- &agent.CompletionChunk{Text: p.text}
	out <- &agent.CompletionChunk{Done: true}
	close(out)
	return out, nil
}
func (p *cannedProvider) Name() string            { return "canned" }
func (p *cannedProvider) Models() []agent.Model   { return nil }
func (p *cannedProvider) SupportsTools() bool     { return false }

func newDispatcherFixture(t *testing.T) (*Dispatcher, *nostr.MemoryTransport) {
	t.Helper()

	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	store := conversation.NewStore(nil, logger.Slog())
	transport := nostr.NewMemoryTransport()
	toolMsgs := toolmsg.NewMemoryStore()
	delegations := delegation.NewRegistry(logger.Slog())

	directory := nostr.NewDirectory()
	directory.RegisterAgent(nostr.AgentInfo{Slug: "planner", Name: "Planner", Pubkey: "agent-planner"})

	builder := prompt.NewBuilder(prompt.NewAssigner(directory, delegations), nil, toolMsgs, directory, logger.Slog())

	engine := agent.NewEngine(agent.EngineConfig{
		Store:     store,
		Builder:   builder,
		Provider:  &cannedProvider{text: "on it"},
		ToolMsgs:  toolMsgs,
		Publisher: transport,
		Signer:    &nostr.LocalSigner{PublicKey: "agent-planner"},
		Ops:       agent.NewOpsRegistry(),
		Logger:    logger,
	})

	dispatcher := &Dispatcher{
		store:       store,
		delegations: delegations,
		transport:   transport,
		agents: map[string]*agentRuntime{
			"agent-planner": {
				cfg:    agentIdentity{Slug: "planner", Pubkey: "agent-planner"},
				engine: engine,
			},
		},
		logger: logger,
	}
	return dispatcher, transport
}

func waitForReply(t *testing.T, transport *nostr.MemoryTransport) *models.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, ev := range transport.EventsOfKind(models.KindReply) {
			if ev.Pubkey == "agent-planner" {
				return ev
			}
		}
		select {
		case <-deadline:
			t.Fatal("agent reply never published")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandleDispatchesTargetedEvent(t *testing.T) {
	d, transport := newDispatcherFixture(t)
	ctx := context.Background()

	root := &models.Event{ID: "root-1", Pubkey: "user-1", Kind: models.KindThread, Content: "hello"}
	d.Handle(ctx, root)

	trigger := &models.Event{
		ID:     "ev-1",
		Pubkey: "user-1",
		Kind:   models.KindReply,
		Tags: []models.Tag{
			{models.TagRoot, "root-1"},
			{models.TagParent, "root-1"},
			{models.TagPubkey, "agent-planner"},
		},
		Content: "please plan this",
	}
	d.Handle(ctx, trigger)

	reply := waitForReply(t, transport)
	if reply.Content != "on it" {
		t.Errorf("reply content = %q", reply.Content)
	}
	if rootID, _ := reply.RootID(); rootID != "root-1" {
		t.Errorf("reply root = %q", rootID)
	}
}

func TestHandleIgnoresUntargetedAndOwnEvents(t *testing.T) {
	d, transport := newDispatcherFixture(t)
	ctx := context.Background()

	d.Handle(ctx, &models.Event{ID: "root-1", Pubkey: "user-1", Kind: models.KindThread})

	// Not p-tagged at any registered agent.
	d.Handle(ctx, &models.Event{
		ID: "ev-1", Pubkey: "user-1", Kind: models.KindReply,
		Tags: []models.Tag{{models.TagRoot, "root-1"}, {models.TagParent, "root-1"}},
	})
	// Self-addressed event must not trigger the author.
	d.Handle(ctx, &models.Event{
		ID: "ev-2", Pubkey: "agent-planner", Kind: models.KindReply,
		Tags: []models.Tag{
			{models.TagRoot, "root-1"},
			{models.TagParent, "root-1"},
			{models.TagPubkey, "agent-planner"},
		},
	})

	time.Sleep(50 * time.Millisecond)
	for _, ev := range transport.EventsOfKind(models.KindReply) {
		if ev.Pubkey == "agent-planner" && ev.Content == "on it" {
			t.Fatal("dispatcher started a turn it should not have")
		}
	}
}

func TestHandleConsumesDelegationResponse(t *testing.T) {
	d, transport := newDispatcherFixture(t)
	ctx := context.Background()

	d.Handle(ctx, &models.Event{ID: "root-1", Pubkey: "user-1", Kind: models.KindThread})

	// The planner delegated to the researcher earlier in the turn.
	handle, err := d.delegations.Register("root-1", "agent-planner", []string{"agent-researcher"}, "dig in", time.Minute)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	response := &models.Event{
		ID: "resp-1", Pubkey: "agent-researcher", Kind: models.KindReply,
		Tags: []models.Tag{
			{models.TagRoot, "root-1"},
			{models.TagParent, "root-1"},
			{models.TagPubkey, "agent-planner"},
		},
		Content: "findings attached",
	}
	d.Handle(ctx, response)

	select {
	case result := <-handle.Done:
		if result.Status != delegation.StatusComplete {
			t.Errorf("status = %q", result.Status)
		}
		if result.Responses["agent-researcher"].Content != "findings attached" {
			t.Errorf("responses = %+v", result.Responses)
		}
	case <-time.After(time.Second):
		t.Fatal("delegation never completed")
	}

	// The awaiting agent must not get a fresh turn for the response.
	time.Sleep(50 * time.Millisecond)
	for _, ev := range transport.EventsOfKind(models.KindReply) {
		if ev.Pubkey == "agent-planner" {
			t.Fatal("dispatcher started a turn for a consumed delegation response")
		}
	}
}
