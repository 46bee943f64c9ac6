// Package models provides domain types for the TENEX agent runtime.
package models

import (
	"encoding/json"
	"time"
)

// EventKind identifies the semantic kind of a signed event.
type EventKind int

const (
	// KindThread is a conversation root event.
	KindThread EventKind = 11

	// KindReply is a threaded reply within a conversation.
	KindReply EventKind = 1111

	// KindStreamingDelta carries partial streamed model output.
	KindStreamingDelta EventKind = 21111

	// KindStatusUpdate carries agent turn lifecycle updates
	// (typing, complete, interrupted, error).
	KindStatusUpdate EventKind = 24111
)

// Well-known tag names. Tag matching is first-element equality.
const (
	TagRoot              = "E"
	TagParent            = "e"
	TagPubkey            = "p"
	TagTool              = "tool"
	TagReasoning         = "reasoning"
	TagPhase             = "phase"
	TagPhaseInstructions = "phase-instructions"
	TagSession           = "claude-session"
	TagBranch            = "branch"
	TagStatus            = "status"
)

// Tag is an ordered tuple of strings. The first element is the tag name.
type Tag []string

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the second element, or "" when absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is an immutable signed record observed on the transport.
// Events are never mutated after observation; all derived state lives
// in the conversation store.
type Event struct {
	ID        string    `json:"id"`
	Pubkey    string    `json:"pubkey"`
	CreatedAt int64     `json:"created_at"`
	Kind      EventKind `json:"kind"`
	Content   string    `json:"content"`
	Tags      []Tag     `json:"tags"`
	Sig       string    `json:"sig,omitempty"`
}

// TagValue returns the value of the first tag with the given name,
// and whether one was found.
func (e *Event) TagValue(name string) (string, bool) {
	for _, t := range e.Tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

// TagValues returns the values of every tag with the given name, in order.
func (e *Event) TagValues(name string) []string {
	var vals []string
	for _, t := range e.Tags {
		if t.Name() == name {
			vals = append(vals, t.Value())
		}
	}
	return vals
}

// HasTag reports whether any tag has the given name.
func (e *Event) HasTag(name string) bool {
	_, ok := e.TagValue(name)
	return ok
}

// RootID returns the conversation root id from the E tag.
// A root event has no E tag and returns ("", false).
func (e *Event) RootID() (string, bool) {
	return e.TagValue(TagRoot)
}

// ParentID returns the direct parent id from the e tag.
func (e *Event) ParentID() (string, bool) {
	return e.TagValue(TagParent)
}

// PTags returns every addressed pubkey, in tag order.
func (e *Event) PTags() []string {
	return e.TagValues(TagPubkey)
}

// IsToolEvent reports whether the event records a tool call/result.
// The structured payload lives off-event in the tool message store.
func (e *Event) IsToolEvent() bool {
	return e.HasTag(TagTool)
}

// IsReasoning reports whether the event is marked as internal reasoning.
// The marker is a bare ["reasoning"] tag with no value.
func (e *Event) IsReasoning() bool {
	for _, t := range e.Tags {
		if len(t) == 1 && t[0] == TagReasoning {
			return true
		}
	}
	return false
}

// Timestamp returns the event creation time.
func (e *Event) Timestamp() time.Time {
	return time.Unix(e.CreatedAt, 0)
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Tags = make([]Tag, len(e.Tags))
	for i, t := range e.Tags {
		cp.Tags[i] = append(Tag(nil), t...)
	}
	return &cp
}

// MarshalJSON implements json.Marshaler, keeping tag tuples compact.
func (t Tag) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(t))
}
