package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/tenex-chat/tenex/internal/backoff"
	"github.com/tenex-chat/tenex/internal/conversation"
	"github.com/tenex-chat/tenex/internal/delegation"
	"github.com/tenex-chat/tenex/internal/nostr"
	"github.com/tenex-chat/tenex/internal/observability"
	"github.com/tenex-chat/tenex/internal/prompt"
	"github.com/tenex-chat/tenex/internal/toolmsg"
	"github.com/tenex-chat/tenex/pkg/models"
)

const (
	// terminalPublishAttempts bounds retries of the terminal status and
	// reply events. Intermediate publishes are never retried.
	terminalPublishAttempts = 3

	// maxToolRounds bounds the number of model/tool round trips in one
	// turn.
	maxToolRounds = 8
)

// Turn describes one agent execution: which agent runs, in which
// conversation, and what triggered it. Exactly one of the three prompt
// variants applies: fresh trigger (default), resume after missed
// history (MissedEvents set), or delegation responses (Delegation set).
type Turn struct {
	AgentPubkey       string
	AgentSlug         string
	ConversationID    string
	Triggering        *models.Event
	PhaseInstructions string

	// MissedEvents selects the missed-history prompt variant.
	MissedEvents      []*models.Event
	DelegationSummary string

	// Delegation selects the delegation-responses prompt variant.
	Delegation *delegation.Result
}

// EngineConfig wires an Engine's collaborators. Store, Builder,
// Provider, Publisher, Signer, and Ops are required; the rest are
// optional.
type EngineConfig struct {
	Store     *conversation.Store
	Builder   *prompt.Builder
	Provider  LLMProvider
	Tools     ToolExecutor
	ToolMsgs  toolmsg.Store
	Publisher nostr.Publisher
	Signer    nostr.Signer
	Ops       *OpsRegistry
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer

	// SystemPrompt and Model are passed through to the provider.
	SystemPrompt string
	Model        string
}

// Engine runs agent turns. It owns no global state: OpsRegistry and the
// stores are passed in as explicit collaborators.
type Engine struct {
	store     *conversation.Store
	builder   *prompt.Builder
	provider  LLMProvider
	tools     ToolExecutor
	toolMsgs  toolmsg.Store
	publisher nostr.Publisher
	signer    nostr.Signer
	ops       *OpsRegistry
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	system    string
	model     string
}

// NewEngine creates an execution engine from the config.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Engine{
		store:     cfg.Store,
		builder:   cfg.Builder,
		provider:  cfg.Provider,
		tools:     cfg.Tools,
		toolMsgs:  cfg.ToolMsgs,
		publisher: cfg.Publisher,
		signer:    cfg.Signer,
		ops:       cfg.Ops,
		logger:    logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		system:    cfg.SystemPrompt,
		model:     cfg.Model,
	}
}

// Execute runs one turn to completion. A newer turn for the same
// (agent, conversation) cancels this one; the partial output already
// streamed stays observable.
func (e *Engine) Execute(ctx context.Context, turn *Turn) error {
	op := e.ops.RegisterOperation(ctx, turn.AgentSlug, turn.ConversationID)
	defer op.Complete()
	ctx = op.Context()

	ctx = observability.AddConversationID(ctx, turn.ConversationID)
	ctx = observability.AddAgent(ctx, turn.AgentSlug)
	info := TurnInfo{
		ConversationID: turn.ConversationID,
		AgentPubkey:    turn.AgentPubkey,
		AgentSlug:      turn.AgentSlug,
	}
	if turn.Triggering != nil {
		ctx = observability.AddEventID(ctx, turn.Triggering.ID)
		info.TriggerEventID = turn.Triggering.ID
	}
	ctx = WithTurnInfo(ctx, info)

	start := time.Now()
	if e.metrics != nil {
		e.metrics.ExecutionStarted()
		defer func() {
			e.metrics.ExecutionEnded(turn.AgentSlug, time.Since(start).Seconds())
		}()
	}
	if e.tracer != nil {
		triggerID := ""
		if turn.Triggering != nil {
			triggerID = turn.Triggering.ID
		}
		spanCtx, span := e.tracer.StartExecution(ctx, turn.AgentSlug, turn.ConversationID, triggerID)
		ctx = spanCtx
		defer span.End()
	}

	conv, err := e.store.Get(turn.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	e.store.StartExecution(turn.ConversationID)
	defer e.store.StopExecution(turn.ConversationID)

	messages := e.buildMessages(ctx, conv, turn)

	state, err := e.store.AgentState(turn.ConversationID, turn.AgentSlug)
	if err != nil {
		return fmt.Errorf("load agent state: %w", err)
	}
	sessionID := state.SessionsByPhase[conv.Phase]

	sp := NewStreamingPublisher(e.deltaEmitter(turn, conv))

	req := &CompletionRequest{
		Model:     e.model,
		System:    e.system,
		Messages:  messages,
		SessionID: sessionID,
	}
	if e.tools != nil && e.provider.SupportsTools() {
		req.Tools = e.tools.Specs()
	}

	var full []byte
	var sessionOut string

	for round := 0; round < maxToolRounds; round++ {
		modelStart := time.Now()
		chunks, err := e.provider.Complete(ctx, req)
		if err != nil {
			sp.ForceFlush()
			e.publishStatus(turn, conv, "error", err.Error())
			return fmt.Errorf("model call: %w", err)
		}

		var calls []*models.ToolCall
		var results []models.ToolResult
		for chunk := range chunks {
			if ctx.Err() != nil {
				e.drain(chunks)
				sp.ForceFlush()
				e.publishStatus(turn, conv, "interrupted", "")
				return ctx.Err()
			}
			switch {
			case chunk.Error != nil:
				if e.metrics != nil {
					e.metrics.RecordLLMRequest(e.provider.Name(), e.model, "error",
						time.Since(modelStart).Seconds(), 0, 0)
					e.metrics.RecordError("engine", "stream")
				}
				sp.ForceFlush()
				e.publishStatus(turn, conv, "error", chunk.Error.Error())
				return fmt.Errorf("model stream: %w", chunk.Error)

			case chunk.ToolCall != nil:
				result := e.runToolCall(ctx, turn, conv, chunk.ToolCall, len(req.Messages))
				calls = append(calls, chunk.ToolCall)
				results = append(results, result)

			case chunk.Reasoning != "":
				sp.Feed(chunk.Reasoning, true)

			case chunk.Text != "":
				sp.Feed(chunk.Text, false)
				full = append(full, chunk.Text...)

			case chunk.Done:
				if chunk.SessionID != "" {
					sessionOut = chunk.SessionID
				}
				if e.metrics != nil {
					e.metrics.RecordLLMRequest(e.provider.Name(), e.model, "success",
						time.Since(modelStart).Seconds(), chunk.InputTokens, chunk.OutputTokens)
				}
			}
		}

		if ctx.Err() != nil {
			sp.ForceFlush()
			e.publishStatus(turn, conv, "interrupted", "")
			return ctx.Err()
		}
		if len(calls) == 0 {
			break
		}

		// Feed tool outcomes back and let the model continue.
		assistant := models.Message{Role: models.RoleAssistant}
		for _, c := range calls {
			assistant.ToolCalls = append(assistant.ToolCalls, *c)
		}
		req.Messages = append(req.Messages, assistant,
			models.Message{Role: models.RoleUser, ToolResults: results})
		req.SessionID = sessionOut
	}

	sp.ForceFlush()

	if len(full) > 0 {
		e.publishReply(ctx, turn, conv, string(full), sessionOut)
	}
	e.publishStatus(turn, conv, "complete", "")

	e.persistTurnState(turn, conv, sessionOut)
	return nil
}

func (e *Engine) buildMessages(ctx context.Context, conv *models.Conversation, turn *Turn) []models.Message {
	switch {
	case turn.Delegation != nil:
		return e.builder.BuildMessagesWithDelegationResponses(ctx, conv, turn.AgentPubkey,
			turn.Delegation.Responses, turn.Delegation.OriginalRequest,
			turn.Triggering, turn.PhaseInstructions)
	case len(turn.MissedEvents) > 0:
		return e.builder.BuildMessagesWithMissedHistory(ctx, conv, turn.AgentPubkey,
			turn.MissedEvents, turn.DelegationSummary, turn.Triggering, turn.PhaseInstructions)
	default:
		return e.builder.BuildMessages(ctx, conv, turn.AgentPubkey,
			turn.Triggering, turn.PhaseInstructions)
	}
}

// runToolCall executes one tool call, publishes the observable tool
// event, stores the full transcript, and returns the budgeted
// in-context copy.
func (e *Engine) runToolCall(ctx context.Context, turn *Turn, conv *models.Conversation, call *models.ToolCall, position int) models.ToolResult {
	toolStart := time.Now()
	var result *models.ToolResult
	if e.tools == nil {
		result = &models.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    fmt.Sprintf("tool %q is not available", call.Name),
			IsError:    true,
		}
	} else {
		result = e.tools.Execute(ctx, call)
	}
	if e.metrics != nil {
		status := "success"
		if result.IsError {
			status = "error"
		}
		e.metrics.RecordToolExecution(call.Name, status, time.Since(toolStart).Seconds())
	}

	ev := e.newEvent(models.KindReply, result.Content, turn, conv)
	ev.Tags = append(ev.Tags, models.Tag{models.TagTool, call.Name})
	if err := e.sign(ev); err != nil {
		e.logger.Warn(ctx, "failed to sign tool event", "tool", call.Name, "error", err)
		return *result
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		// Intermediate publish failures are logged and dropped.
		e.logger.Warn(ctx, "failed to publish tool event", "tool", call.Name, "error", err)
	} else if e.metrics != nil {
		e.metrics.EventPublished(fmt.Sprint(ev.Kind))
	}

	if e.toolMsgs != nil {
		transcript := []models.Message{
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{*call}},
			{Role: models.RoleUser, ToolResults: []models.ToolResult{*result}},
		}
		if err := e.toolMsgs.Save(ctx, ev.ID, transcript); err != nil {
			e.logger.Warn(ctx, "failed to store tool messages", "event", ev.ID, "error", err)
		}
	}

	budgeted := prompt.BudgetToolResults([]models.ToolResult{*result}, position, position+1, ev.ID)
	return budgeted[0]
}

// deltaEmitter returns the emit hook for the streaming publisher.
// Failures of these intermediate events are logged and dropped.
func (e *Engine) deltaEmitter(turn *Turn, conv *models.Conversation) EmitFunc {
	return func(content string, reasoning bool) {
		ev := e.newEvent(models.KindStreamingDelta, content, turn, conv)
		if reasoning {
			ev.Tags = append(ev.Tags, models.Tag{models.TagReasoning})
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sign(ev); err != nil {
			e.logger.Warn(ctx, "failed to sign delta", "error", err)
			return
		}
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn(ctx, "failed to publish delta", "error", err)
			return
		}
		if e.metrics != nil {
			e.metrics.EventPublished(fmt.Sprint(ev.Kind))
		}
	}
}

// publishReply publishes the full assistant response as a threaded
// reply, retried with backoff because it is part of the terminal
// output of the turn.
func (e *Engine) publishReply(ctx context.Context, turn *Turn, conv *models.Conversation, content, sessionID string) {
	ev := e.newEvent(models.KindReply, content, turn, conv)
	if sessionID != "" {
		ev.Tags = append(ev.Tags, models.Tag{models.TagSession, sessionID})
	}
	e.publishTerminal(ev)
}

// publishStatus publishes a lifecycle status update (complete,
// interrupted, error). Terminal updates are retried with bounded
// backoff.
func (e *Engine) publishStatus(turn *Turn, conv *models.Conversation, status, message string) {
	ev := e.newEvent(models.KindStatusUpdate, message, turn, conv)
	ev.Tags = append(ev.Tags, models.Tag{models.TagStatus, status})
	e.publishTerminal(ev)
}

func (e *Engine) publishTerminal(ev *models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.sign(ev); err != nil {
		e.logger.Error(ctx, "failed to sign terminal event", "kind", int(ev.Kind), "error", err)
		return
	}
	err := backoff.RetrySimple(ctx, terminalPublishAttempts, func() error {
		err := e.publisher.Publish(ctx, ev)
		if err != nil && e.metrics != nil {
			e.metrics.RecordPublishRetry()
		}
		return err
	})
	if err != nil {
		e.logger.Error(ctx, "terminal event publish failed", "kind", int(ev.Kind), "error", err)
		if e.metrics != nil {
			e.metrics.RecordError("engine", "terminal_publish")
		}
		return
	}
	if e.metrics != nil {
		e.metrics.EventPublished(fmt.Sprint(ev.Kind))
	}
}

// persistTurnState records session continuity and history progress
// after a successful turn. Cancelled turns skip this.
func (e *Engine) persistTurnState(turn *Turn, conv *models.Conversation, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := e.store.UpdateAgentState(ctx, turn.ConversationID, turn.AgentSlug, func(state *models.AgentState) {
		state.LastProcessedMessageIndex = len(conv.History)
		state.LastSeenPhase = conv.Phase
		if sessionID != "" {
			if state.SessionsByPhase == nil {
				state.SessionsByPhase = make(map[string]string)
			}
			state.SessionsByPhase[conv.Phase] = sessionID
		}
	})
	if err != nil {
		e.logger.Warn(ctx, "failed to persist agent state", "error", err)
	}
	if turn.Triggering != nil {
		if err := e.store.MarkProcessed(ctx, turn.ConversationID, turn.Triggering.ID); err != nil {
			e.logger.Warn(ctx, "failed to mark event processed", "error", err)
		}
	}
}

// newEvent builds an outbound event threaded onto the conversation.
func (e *Engine) newEvent(kind models.EventKind, content string, turn *Turn, conv *models.Conversation) *models.Event {
	ev := &models.Event{
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now().Unix(),
		Tags:      []models.Tag{{models.TagRoot, conv.ID}},
	}
	if turn.Triggering != nil {
		ev.Tags = append(ev.Tags, models.Tag{models.TagParent, turn.Triggering.ID})
		if turn.Triggering.Pubkey != "" {
			ev.Tags = append(ev.Tags, models.Tag{models.TagPubkey, turn.Triggering.Pubkey})
		}
	}
	return ev
}

func (e *Engine) sign(ev *models.Event) error {
	if e.signer == nil {
		return fmt.Errorf("no signer configured")
	}
	return e.signer.Sign(ev)
}

func (e *Engine) drain(chunks <-chan *CompletionChunk) {
	go func() {
		for range chunks {
		}
	}()
}
