package models

import "time"

// Conversation is a threaded set of events sharing a common root, plus
// per-agent state. History is append-only and ordered by observation;
// duplicate event ids collapse to one entry.
type Conversation struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title,omitempty"`
	Phase         string                 `json:"phase,omitempty"`
	History       []*Event               `json:"history"`
	AgentStates   map[string]*AgentState `json:"agent_states,omitempty"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
	ExecutionTime ExecutionTime          `json:"execution_time"`
	TodosByAgent  map[string][]TodoItem  `json:"todos_by_agent,omitempty"`

	// PhaseTransitions is the audit trail of phase changes.
	PhaseTransitions []PhaseTransition `json:"phase_transitions,omitempty"`

	// ProcessedEventIDs records event ids already dispatched to agents,
	// so restarts resume without replaying turns.
	ProcessedEventIDs []string `json:"processed_event_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionTime tracks cumulative active model time for a conversation.
type ExecutionTime struct {
	TotalSeconds int64     `json:"total_seconds"`
	IsActive     bool      `json:"is_active"`
	LastUpdated  time.Time `json:"last_updated"`
}

// PhaseTransition records a single phase change with its actor.
type PhaseTransition struct {
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	ActorPubkey string    `json:"actor_pubkey,omitempty"`
	ActorName   string    `json:"actor_name,omitempty"`
	At          time.Time `json:"at"`
}

// AgentState is the per-conversation, per-agent mutable state.
// All mutation goes through the conversation store, which serializes
// writers per conversation.
type AgentState struct {
	// LastProcessedMessageIndex is the history index up to which this
	// agent has already seen events.
	LastProcessedMessageIndex int `json:"last_processed_message_index"`

	// LastSeenPhase is the phase in effect on the agent's previous turn.
	LastSeenPhase string `json:"last_seen_phase,omitempty"`

	// SessionsByPhase maps a phase to the provider session id persisted
	// at the end of a completed turn in that phase.
	SessionsByPhase map[string]string `json:"sessions_by_phase,omitempty"`

	// Scratch holds arbitrary per-agent values (read-file tracking etc).
	Scratch map[string]any `json:"scratch,omitempty"`
}

// Clone returns a deep copy of the agent state.
func (s *AgentState) Clone() *AgentState {
	cp := &AgentState{
		LastProcessedMessageIndex: s.LastProcessedMessageIndex,
		LastSeenPhase:             s.LastSeenPhase,
	}
	if s.SessionsByPhase != nil {
		cp.SessionsByPhase = make(map[string]string, len(s.SessionsByPhase))
		for k, v := range s.SessionsByPhase {
			cp.SessionsByPhase[k] = v
		}
	}
	if s.Scratch != nil {
		cp.Scratch = make(map[string]any, len(s.Scratch))
		for k, v := range s.Scratch {
			cp.Scratch[k] = v
		}
	}
	return cp
}
