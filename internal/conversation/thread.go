package conversation

import (
	"log/slog"

	"github.com/tenex-chat/tenex/pkg/models"
)

// indexByID builds the side map from event id to history position.
// Events never carry back-pointers; all graph walks go through this map.
func indexByID(history []*models.Event) map[string]int {
	idx := make(map[string]int, len(history))
	for i, ev := range history {
		if _, ok := idx[ev.ID]; !ok {
			idx[ev.ID] = i
		}
	}
	return idx
}

// ThreadPath computes the ordered list of event ids from the
// conversation root down to target, following e (parent) references.
//
// A target without an E tag is treated as the root conversation and the
// whole history is returned in order. A broken parent chain returns the
// collected suffix with the known root prepended when it is present in
// history. Cycles stop the walk with a warning.
func ThreadPath(history []*models.Event, target *models.Event) []string {
	if target == nil {
		return nil
	}
	rootID, hasRoot := target.RootID()
	if !hasRoot {
		ids := make([]string, 0, len(history))
		for _, ev := range history {
			ids = append(ids, ev.ID)
		}
		return ids
	}

	idx := indexByID(history)
	var path []string
	seen := make(map[string]bool)
	cur := target
	for {
		if seen[cur.ID] {
			slog.Warn("cycle detected in thread path", "event", cur.ID, "root", rootID)
			return path
		}
		seen[cur.ID] = true
		path = append([]string{cur.ID}, path...)

		if cur.ID == rootID {
			return path
		}
		parentID, ok := cur.ParentID()
		if !ok {
			return prependRoot(path, rootID, idx)
		}
		pos, inHistory := idx[parentID]
		if !inHistory {
			return prependRoot(path, rootID, idx)
		}
		cur = history[pos]
	}
}

// prependRoot applies the orphan rule: a broken chain keeps what was
// collected, with the root prepended when history actually contains it.
func prependRoot(path []string, rootID string, idx map[string]int) []string {
	if _, ok := idx[rootID]; ok && (len(path) == 0 || path[0] != rootID) {
		return append([]string{rootID}, path...)
	}
	return path
}

// ThreadEvents selects the history slice relevant to a triggering event.
//
// Root context (no trigger, or trigger without an E tag) and direct
// replies to the root both see the whole history. A reply deeper in the
// thread sees only the events on the path from the root to its parent.
func ThreadEvents(history []*models.Event, triggering *models.Event) []*models.Event {
	if triggering == nil {
		return history
	}
	rootID, hasRoot := triggering.RootID()
	if !hasRoot {
		return history
	}
	parentID, hasParent := triggering.ParentID()
	if !hasParent || parentID == rootID {
		return history
	}

	idx := indexByID(history)
	pos, ok := idx[parentID]
	if !ok {
		// Incomplete thread: fall back to the whole history.
		return history
	}
	parent := history[pos]
	allowed := make(map[string]bool)
	for _, id := range ThreadPath(history, parent) {
		allowed[id] = true
	}
	out := make([]*models.Event, 0, len(allowed))
	for _, ev := range history {
		if allowed[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

// FilterToThread restricts missed events to those on the triggering
// event's thread. Without a trigger (or without thread structure) the
// input is returned unchanged.
func FilterToThread(history, events []*models.Event, triggering *models.Event) []*models.Event {
	if triggering == nil {
		return events
	}
	if _, hasRoot := triggering.RootID(); !hasRoot {
		return events
	}
	allowed := make(map[string]bool)
	for _, ev := range ThreadEvents(history, triggering) {
		allowed[ev.ID] = true
	}
	out := make([]*models.Event, 0, len(events))
	for _, ev := range events {
		if allowed[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}
