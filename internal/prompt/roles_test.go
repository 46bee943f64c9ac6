package prompt

import (
	"testing"

	"github.com/tenex-chat/tenex/pkg/models"
)

type fakeDir struct {
	agents map[string]string
	users  map[string]string
}

func (d *fakeDir) Name(pubkey string) string {
	if name, ok := d.agents[pubkey]; ok {
		return name
	}
	if name, ok := d.users[pubkey]; ok {
		return name
	}
	if len(pubkey) > 8 {
		return pubkey[:8]
	}
	return pubkey
}

func (d *fakeDir) IsAgent(pubkey string) bool {
	_, ok := d.agents[pubkey]
	return ok
}

type fakeDelegations struct {
	pending map[[3]string]bool
}

func (f *fakeDelegations) HasPending(conversationID, delegatingAgent, respondingAgent string) bool {
	return f.pending[[3]string{conversationID, delegatingAgent, respondingAgent}]
}

func testDir() *fakeDir {
	return &fakeDir{
		agents: map[string]string{
			"A1": "Agent1",
			"A2": "Agent2",
			"A3": "Agent3",
		},
		users: map[string]string{"U": "alice"},
	}
}

func event(author string, pTags ...string) *models.Event {
	ev := &models.Event{ID: "ev-" + author, Pubkey: author}
	for _, pk := range pTags {
		ev.Tags = append(ev.Tags, models.Tag{"p", pk})
	}
	return ev
}

func TestAssignRoleTable(t *testing.T) {
	dir := testDir()
	delegations := &fakeDelegations{pending: map[[3]string]bool{
		{"c1", "A1", "A2"}: true,
	}}
	assigner := NewAssigner(dir, delegations)

	tests := []struct {
		name        string
		ev          *models.Event
		viewer      string
		convID      string
		content     string
		wantRole    models.Role
		wantContent string
	}{
		{
			name:        "own event is assistant",
			ev:          event("A1"),
			viewer:      "A1",
			content:     "my own words",
			wantRole:    models.RoleAssistant,
			wantContent: "my own words",
		},
		{
			name:        "pending delegation response is wrapped user message",
			ev:          event("A2"),
			viewer:      "A1",
			convID:      "c1",
			content:     "here is my answer",
			wantRole:    models.RoleUser,
			wantContent: "[DELEGATION RESPONSE from Agent2]:\nhere is my answer\n[END DELEGATION RESPONSE]",
		},
		{
			name:        "user message to this agent is plain user",
			ev:          event("U", "A1"),
			viewer:      "A1",
			content:     "please help",
			wantRole:    models.RoleUser,
			wantContent: "please help",
		},
		{
			name:        "user message without targets is plain user",
			ev:          event("U"),
			viewer:      "A1",
			content:     "hello everyone",
			wantRole:    models.RoleUser,
			wantContent: "hello everyone",
		},
		{
			name:        "user message to other agents is system context",
			ev:          event("U", "A2", "A3"),
			viewer:      "A1",
			content:     "do the thing",
			wantRole:    models.RoleSystem,
			wantContent: "[User (alice) → Agent2, Agent3]: do the thing",
		},
		{
			name:        "agent message targeted at viewer is user",
			ev:          event("A2", "A1"),
			viewer:      "A1",
			content:     "over to you",
			wantRole:    models.RoleUser,
			wantContent: "[Agent2 → @Agent1]: over to you",
		},
		{
			name:        "agent message targeted elsewhere is system",
			ev:          event("A2", "A3"),
			viewer:      "A1",
			content:     "for agent three",
			wantRole:    models.RoleSystem,
			wantContent: "[Agent2 → Agent3]: for agent three",
		},
		{
			name:        "untargeted agent message is system",
			ev:          event("A2"),
			viewer:      "A1",
			content:     "broadcast",
			wantRole:    models.RoleSystem,
			wantContent: "[Agent2]: broadcast",
		},
		{
			name:        "non-agent p tags are ignored for targeting",
			ev:          event("U", "unknownpubkey123"),
			viewer:      "A1",
			content:     "hi",
			wantRole:    models.RoleUser,
			wantContent: "hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assigner.Assign(tt.ev, tt.viewer, tt.convID, tt.content)
			if got.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", got.Role, tt.wantRole)
			}
			if got.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", got.Content, tt.wantContent)
			}
		})
	}
}

func TestAssignUnknownPubkeyFallsBackToHex(t *testing.T) {
	assigner := NewAssigner(testDir(), nil)
	ev := event("deadbeefcafe0123456789")
	// An unregistered author is not an agent, so the message is treated
	// as coming from a human user.
	got := assigner.Assign(ev, "A1", "", "hello")
	if got.Role != models.RoleUser {
		t.Errorf("role = %q, want user", got.Role)
	}
}

func TestAssignDelegationRequiresConversation(t *testing.T) {
	delegations := &fakeDelegations{pending: map[[3]string]bool{
		{"c1", "A1", "A2"}: true,
	}}
	assigner := NewAssigner(testDir(), delegations)

	// Without a conversation id the delegation branch must not apply.
	got := assigner.Assign(event("A2"), "A1", "", "answer")
	if got.Role != models.RoleSystem {
		t.Errorf("role = %q, want system without conversation scope", got.Role)
	}
}
