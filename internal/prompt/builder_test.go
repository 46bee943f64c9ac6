package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/tenex-chat/tenex/internal/toolmsg"
	"github.com/tenex-chat/tenex/pkg/models"
)

func testBuilder(t *testing.T, tools toolmsg.Store) *Builder {
	t.Helper()
	dir := testDir()
	return NewBuilder(NewAssigner(dir, nil), nil, tools, dir, nil)
}

func convWith(events ...*models.Event) *models.Conversation {
	return &models.Conversation{ID: events[0].ID, History: events}
}

func userEvent(id, content string) *models.Event {
	return &models.Event{ID: id, Pubkey: "U", Content: content}
}

func agentEvent(id, author, content string) *models.Event {
	return &models.Event{ID: id, Pubkey: author, Content: content}
}

func TestBuildMessagesHistory(t *testing.T) {
	builder := testBuilder(t, nil)
	conv := convWith(
		userEvent("e1", "First message"),
		agentEvent("e2", "A2", "Second message"),
	)

	got := builder.BuildMessages(context.Background(), conv, "A1", nil, "")
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Role != models.RoleUser || got[0].Content != "First message" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Role != models.RoleSystem || got[1].Content != "[Agent2]: Second message" {
		t.Errorf("second message = %+v", got[1])
	}
}

func TestBuildMessagesTriggeringExclusion(t *testing.T) {
	builder := testBuilder(t, nil)
	trigger := userEvent("e3", "Triggering message")
	conv := convWith(
		userEvent("e1", "First message"),
		agentEvent("e2", "A2", "Second message"),
		trigger,
	)

	got := builder.BuildMessages(context.Background(), conv, "A1", trigger, "")
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[2].Role != models.RoleUser || got[2].Content != "Triggering message" {
		t.Errorf("triggering message = %+v", got[2])
	}
	// The trigger must appear exactly once, at the end.
	for i, msg := range got[:2] {
		if msg.Content == "Triggering message" {
			t.Errorf("trigger leaked into history at index %d", i)
		}
	}
}

func TestBuildMessagesPhasePreamble(t *testing.T) {
	builder := testBuilder(t, nil)
	conv := convWith(userEvent("e1", "hello"))
	conv.Phase = "reflection"

	got := builder.BuildMessages(context.Background(), conv, "A1", nil, "You are now in reflection phase")
	last := got[len(got)-1]
	if last.Role != models.RoleSystem {
		t.Fatalf("phase message role = %q", last.Role)
	}
	if !strings.Contains(last.Content, "=== CURRENT PHASE: REFLECTION ===") {
		t.Errorf("phase header missing: %q", last.Content)
	}
	if !strings.Contains(last.Content, "You are now in reflection phase") {
		t.Errorf("phase instructions missing: %q", last.Content)
	}
}

func TestBuildMessagesThreadFiltering(t *testing.T) {
	builder := testBuilder(t, nil)
	rootEv := userEvent("root", "root message")
	branchA1 := &models.Event{ID: "a1", Pubkey: "A2", Content: "branch a one",
		Tags: []models.Tag{{"E", "root"}, {"e", "root"}}}
	branchA2 := &models.Event{ID: "a2", Pubkey: "U", Content: "branch a two",
		Tags: []models.Tag{{"E", "root"}, {"e", "a1"}}}
	branchB1 := &models.Event{ID: "b1", Pubkey: "A3", Content: "branch b one",
		Tags: []models.Tag{{"E", "root"}, {"e", "root"}}}
	trigger := &models.Event{ID: "t1", Pubkey: "U", Content: "trigger",
		Tags: []models.Tag{{"E", "root"}, {"e", "a2"}}}
	conv := convWith(rootEv, branchA1, branchA2, branchB1)

	got := builder.BuildMessages(context.Background(), conv, "A1", trigger, "")
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4 (root, a1, a2, trigger)", len(got))
	}
	for _, msg := range got {
		if strings.Contains(msg.Content, "branch b one") {
			t.Errorf("other branch leaked into the prompt: %q", msg.Content)
		}
	}
	if got[3].Content != "trigger" {
		t.Errorf("last message = %q, want trigger", got[3].Content)
	}
}

func TestBuildMessagesReasoningSuppression(t *testing.T) {
	builder := testBuilder(t, nil)
	reasoning := agentEvent("e2", "A2", "private planning")
	reasoning.Tags = append(reasoning.Tags, models.Tag{"reasoning"})
	conv := convWith(
		userEvent("e1", "visible"),
		reasoning,
		agentEvent("e3", "A2", "<thinking>internal only</thinking>"),
	)

	got := builder.BuildMessages(context.Background(), conv, "A1", nil, "")
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1 (reasoning suppressed)", len(got))
	}
	if got[0].Content != "visible" {
		t.Errorf("message = %q", got[0].Content)
	}
}

func TestBuildMessagesOwnToolEvents(t *testing.T) {
	store := toolmsg.NewMemoryStore()
	builder := testBuilder(t, store)
	ctx := context.Background()

	ownTool := agentEvent("tool1", "A1", "ran fs_read")
	ownTool.Tags = append(ownTool.Tags, models.Tag{"tool", "fs_read"})
	otherTool := agentEvent("tool2", "A2", "ran shell")
	otherTool.Tags = append(otherTool.Tags, models.Tag{"tool", "shell"})

	stored := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "tc1", Name: "fs_read"}}},
		{Role: models.RoleUser, ToolResults: []models.ToolResult{{ToolCallID: "tc1", Content: "file contents"}}},
	}
	if err := store.Save(ctx, "tool1", stored); err != nil {
		t.Fatalf("save: %v", err)
	}

	conv := convWith(userEvent("e1", "start"), ownTool, otherTool)
	got := builder.BuildMessages(ctx, conv, "A1", nil, "")

	// start + two stored tool messages; the other agent's tool event is
	// dropped entirely.
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Name != "fs_read" {
		t.Errorf("stored tool call not replayed: %+v", got[1])
	}
	if len(got[2].ToolResults) != 1 || got[2].ToolResults[0].Content != "file contents" {
		t.Errorf("stored tool result not replayed: %+v", got[2])
	}
	for _, msg := range got {
		if strings.Contains(msg.Content, "ran shell") {
			t.Error("other agent's tool event leaked into the prompt")
		}
	}
}

func TestBuildMessagesOwnToolFallback(t *testing.T) {
	builder := testBuilder(t, toolmsg.NewMemoryStore())
	ownTool := agentEvent("tool1", "A1", "tool summary text")
	ownTool.Tags = append(ownTool.Tags, models.Tag{"tool", "fs_read"})
	conv := convWith(userEvent("e1", "start"), ownTool)

	got := builder.BuildMessages(context.Background(), conv, "A1", nil, "")
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[1].Role != models.RoleAssistant || got[1].Content != "tool summary text" {
		t.Errorf("fallback message = %+v", got[1])
	}
}

func TestBuildMessagesWithMissedHistory(t *testing.T) {
	builder := testBuilder(t, nil)
	missed := []*models.Event{
		userEvent("m1", "while you were gone"),
		agentEvent("m2", "A1", "my earlier reply"),
		agentEvent("m3", "A2", "other agent note"),
	}
	reasoning := agentEvent("m4", "A2", "hidden")
	reasoning.Tags = append(reasoning.Tags, models.Tag{"reasoning"})
	missed = append(missed, reasoning)

	conv := convWith(userEvent("e1", "start"))
	trigger := userEvent("t1", "catch up please")

	got := builder.BuildMessagesWithMissedHistory(context.Background(), conv, "A1", missed, "delegation finished earlier", trigger, "")
	if len(got) != 2 {
		t.Fatalf("got %d messages, want block + trigger", len(got))
	}

	block := got[0]
	if block.Role != models.RoleSystem {
		t.Fatalf("block role = %q", block.Role)
	}
	for _, want := range []string{
		"=== MESSAGES WHILE YOU WERE AWAY ===",
		"**Previous context**: delegation finished earlier",
		"🟢 USER:\nwhile you were gone",
		"💬 You (Agent1):\nmy earlier reply",
		"💬 Agent2:\nother agent note",
		"=== END OF HISTORY ===",
	} {
		if !strings.Contains(block.Content, want) {
			t.Errorf("block missing %q in:\n%s", want, block.Content)
		}
	}
	if strings.Contains(block.Content, "hidden") {
		t.Error("reasoning event leaked into missed history block")
	}
	if got[1].Content != "catch up please" {
		t.Errorf("trigger = %q", got[1].Content)
	}
}

func TestBuildMessagesWithDelegationResponses(t *testing.T) {
	builder := testBuilder(t, nil)
	conv := convWith(userEvent("e1", "start"))

	responses := map[string]*models.Event{
		"A2": agentEvent("r1", "A2", "analysis done"),
		"A3": agentEvent("r2", "A3", "<thinking>still thinking</thinking>"),
	}
	got := builder.BuildMessagesWithDelegationResponses(context.Background(), conv, "A1", responses, "analyze the codebase", nil, "")
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	block := got[0]
	if block.Role != models.RoleSystem {
		t.Fatalf("role = %q", block.Role)
	}
	for _, want := range []string{
		"=== DELEGATE RESPONSES RECEIVED ===",
		`delegated the following request to 2 agent(s)`,
		`"analyze the codebase"`,
		"### Response from Agent2:\nanalysis done",
		"=== END OF DELEGATE RESPONSES ===",
		"Now process these responses and complete your task.",
	} {
		if !strings.Contains(block.Content, want) {
			t.Errorf("block missing %q in:\n%s", want, block.Content)
		}
	}
	// The thinking-only response contributes nothing.
	if strings.Contains(block.Content, "Agent3") {
		t.Error("thinking-only response should be skipped")
	}
}

func TestBuildMessagesSkipsEmptyContent(t *testing.T) {
	builder := testBuilder(t, nil)
	conv := convWith(
		userEvent("e1", "first"),
		userEvent("e2", "   "),
		userEvent("e3", "third"),
	)
	got := builder.BuildMessages(context.Background(), conv, "A1", nil, "")
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
}
