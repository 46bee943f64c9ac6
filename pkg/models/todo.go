package models

import "time"

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
	TodoSkipped    TodoStatus = "skipped"
)

// Valid reports whether the status is one of the known values.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoDone, TodoSkipped:
		return true
	}
	return false
}

// TodoItem is one entry in an agent's per-conversation todo list.
// Ids are unique within a list; array order is the semantic order.
// SkipReason is required iff Status is skipped.
type TodoItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TodoStatus `json:"status"`
	SkipReason  string     `json:"skip_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
