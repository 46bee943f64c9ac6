package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tenex-chat/tenex/pkg/models"
)

// TodoError is a rejected todo write. Safety rejections carry the ids
// that would have been silently dropped.
type TodoError struct {
	Reason     string
	MissingIDs []string
}

func (e *TodoError) Error() string {
	if len(e.MissingIDs) > 0 {
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.MissingIDs, ", "))
	}
	return e.Reason
}

// Todos returns a copy of an agent's todo list for a conversation.
func (s *Store) Todos(convID, agentPubkey string) ([]models.TodoItem, error) {
	e, ok := s.get(convID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, convID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.TodoItem(nil), e.conv.TodosByAgent[agentPubkey]...), nil
}

// WriteTodos atomically replaces an agent's todo list.
//
// The write is rejected when newItems contains duplicate ids, when a
// skipped item has no skip reason, or when existing ids would be
// silently dropped without force. CreatedAt and an unset description
// are carried over from the existing item with the same id; UpdatedAt
// advances only when the status changed.
func (s *Store) WriteTodos(ctx context.Context, convID, agentPubkey string, newItems []models.TodoItem, force bool) error {
	seen := make(map[string]bool, len(newItems))
	for _, item := range newItems {
		if item.ID == "" {
			return &TodoError{Reason: "todo item has empty id"}
		}
		if seen[item.ID] {
			return &TodoError{Reason: "duplicate todo id " + item.ID}
		}
		seen[item.ID] = true
		if !item.Status.Valid() {
			return &TodoError{Reason: fmt.Sprintf("invalid status %q for todo %s", item.Status, item.ID)}
		}
		if item.Status == models.TodoSkipped && strings.TrimSpace(item.SkipReason) == "" {
			return &TodoError{Reason: "skipped todo " + item.ID + " requires a skip reason"}
		}
	}

	e, ok := s.get(convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, convID)
	}

	e.mu.Lock()
	existing := e.conv.TodosByAgent[agentPubkey]
	byID := make(map[string]models.TodoItem, len(existing))
	for _, item := range existing {
		byID[item.ID] = item
	}

	var missing []string
	for id := range byID {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && !force {
		e.mu.Unlock()
		sort.Strings(missing)
		return &TodoError{
			Reason:     "write would drop existing todos (pass force to confirm)",
			MissingIDs: missing,
		}
	}

	now := time.Now()
	replaced := make([]models.TodoItem, 0, len(newItems))
	for _, item := range newItems {
		if prev, ok := byID[item.ID]; ok {
			item.CreatedAt = prev.CreatedAt
			if item.Description == "" {
				item.Description = prev.Description
			}
			if item.Status != prev.Status {
				item.UpdatedAt = now
			} else {
				item.UpdatedAt = prev.UpdatedAt
			}
		} else {
			item.CreatedAt = now
			item.UpdatedAt = now
		}
		replaced = append(replaced, item)
	}

	if e.conv.TodosByAgent == nil {
		e.conv.TodosByAgent = make(map[string][]models.TodoItem)
	}
	e.conv.TodosByAgent[agentPubkey] = replaced
	e.conv.UpdatedAt = now
	e.mu.Unlock()

	s.persist(ctx, e)
	return nil
}
