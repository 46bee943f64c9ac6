package toolmsg

import (
	"context"
	"sync"

	"github.com/tenex-chat/tenex/pkg/models"
)

// MemoryStore keeps tool messages in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.Message
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]models.Message)}
}

// Save implements Store. The first write for an id wins.
func (m *MemoryStore) Save(_ context.Context, eventID string, messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[eventID]; ok {
		return nil
	}
	m.messages[eventID] = append([]models.Message(nil), messages...)
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, eventID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs, ok := m.messages[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]models.Message(nil), msgs...), nil
}
