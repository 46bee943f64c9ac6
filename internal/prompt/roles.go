// Package prompt materializes per-agent prompt message streams from the
// shared threaded event history: role assignment, context building, and
// adaptive tool output budgeting.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tenex-chat/tenex/pkg/models"
)

// NameDirectory resolves pubkeys to display names and distinguishes
// registered project agents from human users.
type NameDirectory interface {
	Name(pubkey string) string
	IsAgent(pubkey string) bool
}

// DelegationChecker answers whether a pending delegation exists from a
// delegating agent to a responding agent within a conversation.
type DelegationChecker interface {
	HasPending(conversationID, delegatingAgent, respondingAgent string) bool
}

// Assigner maps a raw event plus the viewing agent's identity into a
// prompt message with a role drawn from assistant/user/system.
type Assigner struct {
	dir         NameDirectory
	delegations DelegationChecker
}

// NewAssigner creates a role assigner. delegations may be nil when no
// delegation correlation is wanted.
func NewAssigner(dir NameDirectory, delegations DelegationChecker) *Assigner {
	return &Assigner{dir: dir, delegations: delegations}
}

// Assign decides the role and rendered content for one event as seen by
// the viewing agent. content is the already-processed event content.
//
// Decision order: the agent's own events are assistant messages;
// pending delegation responses are user messages with a delegation
// wrapper; human events are user messages unless targeted elsewhere;
// other agents' events are user messages when targeted at the viewer
// and system messages otherwise.
func (a *Assigner) Assign(ev *models.Event, viewer, conversationID, content string) models.Message {
	if ev.Pubkey == viewer {
		return models.NewMessage(models.RoleAssistant, content)
	}

	fromAgent := a.dir.IsAgent(ev.Pubkey)

	if conversationID != "" && fromAgent && a.delegations != nil &&
		a.delegations.HasPending(conversationID, viewer, ev.Pubkey) {
		return models.NewMessage(models.RoleUser, fmt.Sprintf(
			"[DELEGATION RESPONSE from %s]:\n%s\n[END DELEGATION RESPONSE]",
			a.dir.Name(ev.Pubkey), content))
	}

	targets := a.agentTargets(ev)

	if !fromAgent {
		// Human user. Messages addressed to other agents only are
		// demoted to system context for this viewer.
		if len(targets) > 0 && !contains(targets, viewer) {
			return models.NewMessage(models.RoleSystem, fmt.Sprintf(
				"[User (%s) → %s]: %s",
				a.dir.Name(ev.Pubkey), a.targetNames(targets), content))
		}
		return models.NewMessage(models.RoleUser, content)
	}

	sender := a.dir.Name(ev.Pubkey)
	switch {
	case len(targets) > 0 && contains(targets, viewer):
		return models.NewMessage(models.RoleUser, fmt.Sprintf(
			"[%s → @%s]: %s", sender, a.dir.Name(viewer), content))
	case len(targets) > 0:
		return models.NewMessage(models.RoleSystem, fmt.Sprintf(
			"[%s → %s]: %s", sender, a.targetNames(targets), content))
	default:
		return models.NewMessage(models.RoleSystem, fmt.Sprintf(
			"[%s]: %s", sender, content))
	}
}

// agentTargets returns the subset of p-tag targets that are registered
// project agents, in tag order.
func (a *Assigner) agentTargets(ev *models.Event) []string {
	var targets []string
	for _, pk := range ev.PTags() {
		if a.dir.IsAgent(pk) {
			targets = append(targets, pk)
		}
	}
	return targets
}

func (a *Assigner) targetNames(targets []string) string {
	names := make([]string, len(targets))
	for i, pk := range targets {
		names[i] = a.dir.Name(pk)
	}
	return strings.Join(names, ", ")
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
