package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tenex-chat/tenex/internal/content"
	"github.com/tenex-chat/tenex/internal/conversation"
	"github.com/tenex-chat/tenex/internal/toolmsg"
	"github.com/tenex-chat/tenex/pkg/models"
)

// Builder assembles the ordered prompt stream for one agent's view of a
// conversation. It combines thread filtering, content stripping, entity
// inlining, role assignment, stored tool message replay, and tool
// output budgeting.
type Builder struct {
	assigner *Assigner
	inliner  *content.Inliner
	tools    toolmsg.Store
	dir      NameDirectory
	logger   *slog.Logger
}

// NewBuilder creates a context builder. tools and inliner may be nil,
// in which case tool replay and entity inlining are skipped.
func NewBuilder(assigner *Assigner, inliner *content.Inliner, tools toolmsg.Store, dir NameDirectory, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		assigner: assigner,
		inliner:  inliner,
		tools:    tools,
		dir:      dir,
		logger:   logger,
	}
}

// BuildMessages produces the prompt stream for a fresh turn: the
// thread-relevant history (triggering event excluded), an optional
// phase preamble, and the triggering event last.
func (b *Builder) BuildMessages(ctx context.Context, conv *models.Conversation, viewer string, triggering *models.Event, phaseInstructions string) []models.Message {
	events := conversation.ThreadEvents(conv.History, triggering)

	var messages []models.Message
	var retrievalIDs []string
	for _, ev := range events {
		if triggering != nil && ev.ID == triggering.ID {
			break
		}
		msgs, refs := b.processEvent(ctx, ev, viewer, conv.ID)
		messages = append(messages, msgs...)
		retrievalIDs = append(retrievalIDs, refs...)
	}

	messages, retrievalIDs = b.appendPhase(messages, retrievalIDs, conv.Phase, phaseInstructions)
	messages, retrievalIDs = b.appendTriggering(ctx, messages, retrievalIDs, triggering, viewer, conv.ID)

	return BudgetMessages(messages, func(i int) string { return retrievalIDs[i] })
}

// BuildMessagesWithMissedHistory produces the prompt stream for a turn
// resumed after the agent missed events: a single system block
// summarizing what happened while it was away, then the phase preamble
// and the triggering event.
func (b *Builder) BuildMessagesWithMissedHistory(ctx context.Context, conv *models.Conversation, viewer string, missedEvents []*models.Event, delegationSummary string, triggering *models.Event, phaseInstructions string) []models.Message {
	missed := conversation.FilterToThread(conv.History, missedEvents, triggering)

	kept := make([]*models.Event, 0, len(missed))
	for _, ev := range missed {
		if content.HasReasoningTag(ev) {
			continue
		}
		kept = append(kept, ev)
	}

	var messages []models.Message
	var retrievalIDs []string
	if len(kept) > 0 {
		var block strings.Builder
		block.WriteString("=== MESSAGES WHILE YOU WERE AWAY ===\n\n")
		if delegationSummary != "" {
			fmt.Fprintf(&block, "**Previous context**: %s\n\n", delegationSummary)
		}
		for _, ev := range kept {
			processed := b.processContent(ctx, ev.Content)
			if processed == "" {
				continue
			}
			fmt.Fprintf(&block, "%s:\n%s\n\n", b.senderLabel(ev, viewer), processed)
		}
		block.WriteString("=== END OF HISTORY ===\nRespond to the most recent user message above, considering the context.\n\n")
		messages = append(messages, models.NewMessage(models.RoleSystem, block.String()))
		retrievalIDs = append(retrievalIDs, "")
	}

	messages, retrievalIDs = b.appendPhase(messages, retrievalIDs, conv.Phase, phaseInstructions)
	messages, retrievalIDs = b.appendTriggering(ctx, messages, retrievalIDs, triggering, viewer, conv.ID)

	return BudgetMessages(messages, func(i int) string { return retrievalIDs[i] })
}

// BuildMessagesWithDelegationResponses produces the prompt stream for a
// turn resumed by aggregated delegation responses.
func (b *Builder) BuildMessagesWithDelegationResponses(ctx context.Context, conv *models.Conversation, viewer string, responses map[string]*models.Event, originalRequest string, triggering *models.Event, phaseInstructions string) []models.Message {
	var block strings.Builder
	block.WriteString("=== DELEGATE RESPONSES RECEIVED ===\n\n")
	fmt.Fprintf(&block, "You previously delegated the following request to %d agent(s):\n%q\n\n", len(responses), originalRequest)
	block.WriteString("Here are all the responses:\n\n")

	// Stable order: respond by agent display name.
	pubkeys := make([]string, 0, len(responses))
	for pk := range responses {
		pubkeys = append(pubkeys, pk)
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		return b.dirName(pubkeys[i]) < b.dirName(pubkeys[j])
	})

	for _, pk := range pubkeys {
		ev := responses[pk]
		if ev == nil || content.HasReasoningTag(ev) || content.IsOnlyThinking(ev.Content) {
			continue
		}
		fmt.Fprintf(&block, "### Response from %s:\n%s\n\n", b.dirName(pk), content.Strip(ev.Content))
	}

	block.WriteString("=== END OF DELEGATE RESPONSES ===\n\nNow process these responses and complete your task.")

	messages := []models.Message{models.NewMessage(models.RoleSystem, block.String())}
	retrievalIDs := []string{""}

	messages, retrievalIDs = b.appendPhase(messages, retrievalIDs, conv.Phase, phaseInstructions)
	messages, retrievalIDs = b.appendTriggering(ctx, messages, retrievalIDs, triggering, viewer, conv.ID)

	return BudgetMessages(messages, func(i int) string { return retrievalIDs[i] })
}

// processEvent runs one history event through the full pipeline and
// returns zero or more messages with their retrieval ids.
func (b *Builder) processEvent(ctx context.Context, ev *models.Event, viewer, conversationID string) ([]models.Message, []string) {
	if strings.TrimSpace(ev.Content) == "" {
		return nil, nil
	}

	if ev.IsToolEvent() {
		// Other agents' tool noise is never shown.
		if ev.Pubkey != viewer {
			return nil, nil
		}
		if b.tools != nil {
			stored, err := b.tools.Load(ctx, ev.ID)
			if err == nil && len(stored) > 0 {
				refs := make([]string, len(stored))
				for i := range refs {
					refs[i] = ev.ID
				}
				return stored, refs
			}
			if err != nil && !errors.Is(err, toolmsg.ErrNotFound) {
				b.logger.Warn("failed to load tool messages", "event", ev.ID, "error", err)
			}
		}
		// No stored messages: fall back to the event content.
		processed := b.inline(ctx, ev.Content)
		return []models.Message{b.assigner.Assign(ev, viewer, conversationID, processed)}, []string{""}
	}

	if content.HasReasoningTag(ev) || content.IsOnlyThinking(ev.Content) {
		return nil, nil
	}

	processed := b.processContent(ctx, ev.Content)
	if processed == "" {
		return nil, nil
	}
	return []models.Message{b.assigner.Assign(ev, viewer, conversationID, processed)}, []string{""}
}

func (b *Builder) processContent(ctx context.Context, text string) string {
	return b.inline(ctx, content.Strip(text))
}

func (b *Builder) inline(ctx context.Context, text string) string {
	if b.inliner == nil {
		return text
	}
	return b.inliner.Inline(ctx, text)
}

func (b *Builder) appendPhase(messages []models.Message, refs []string, phase, phaseInstructions string) ([]models.Message, []string) {
	if phaseInstructions == "" {
		return messages, refs
	}
	msg := models.NewMessage(models.RoleSystem, fmt.Sprintf(
		"=== CURRENT PHASE: %s ===\n\n%s", strings.ToUpper(phase), phaseInstructions))
	return append(messages, msg), append(refs, "")
}

func (b *Builder) appendTriggering(ctx context.Context, messages []models.Message, refs []string, triggering *models.Event, viewer, conversationID string) ([]models.Message, []string) {
	if triggering == nil {
		return messages, refs
	}
	msgs, newRefs := b.processEvent(ctx, triggering, viewer, conversationID)
	return append(messages, msgs...), append(refs, newRefs...)
}

func (b *Builder) senderLabel(ev *models.Event, viewer string) string {
	switch {
	case !b.dir.IsAgent(ev.Pubkey):
		return "🟢 USER"
	case ev.Pubkey == viewer:
		return fmt.Sprintf("💬 You (%s)", b.dirName(ev.Pubkey))
	default:
		return "💬 " + b.dirName(ev.Pubkey)
	}
}

func (b *Builder) dirName(pubkey string) string {
	if b.dir == nil {
		return pubkey
	}
	return b.dir.Name(pubkey)
}
