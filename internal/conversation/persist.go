package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tenex-chat/tenex/pkg/models"
)

// MemoryAdapter keeps snapshots in process memory. Useful for tests and
// ephemeral runs.
type MemoryAdapter struct {
	mu        sync.Mutex
	snapshots map[string][]byte
}

// NewMemoryAdapter creates an empty adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{snapshots: make(map[string][]byte)}
}

// Initialize implements PersistenceAdapter.
func (m *MemoryAdapter) Initialize(context.Context) error { return nil }

// Save implements PersistenceAdapter. Snapshots are serialized so later
// loads observe an independent copy.
func (m *MemoryAdapter) Save(_ context.Context, id string, snapshot *models.Conversation) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", id, err)
	}
	m.mu.Lock()
	m.snapshots[id] = data
	m.mu.Unlock()
	return nil
}

// List implements PersistenceAdapter.
func (m *MemoryAdapter) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	return ids, nil
}

// Load implements PersistenceAdapter.
func (m *MemoryAdapter) Load(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.Lock()
	data, ok := m.snapshots[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	return &conv, nil
}
