// Package conversation owns the authoritative in-memory state of
// conversations and per-agent state, with write-behind persistence.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tenex-chat/tenex/pkg/models"
)

var (
	// ErrNotFound is returned for unknown conversation ids.
	ErrNotFound = errors.New("conversation: not found")
)

// PersistenceAdapter is the opaque storage behind the store. Snapshots
// mirror the full Conversation including processed event ids so
// restarts resume correctly.
type PersistenceAdapter interface {
	Initialize(ctx context.Context) error
	Save(ctx context.Context, id string, snapshot *models.Conversation) error
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, id string) (*models.Conversation, error)
}

// Store holds all live conversations. Each conversation is a serial
// access unit: writers take the per-conversation lock, readers get
// committed snapshots.
type Store struct {
	mu      sync.RWMutex
	convs   map[string]*entry
	adapter PersistenceAdapter
	logger  *slog.Logger
}

type entry struct {
	mu   sync.Mutex
	conv *models.Conversation
	idx  map[string]int // event id -> history position
}

// NewStore creates a store over the given adapter. A nil adapter keeps
// everything in memory.
func NewStore(adapter PersistenceAdapter, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		convs:   make(map[string]*entry),
		adapter: adapter,
		logger:  logger,
	}
}

// Initialize loads persisted conversations from the adapter.
func (s *Store) Initialize(ctx context.Context) error {
	if s.adapter == nil {
		return nil
	}
	if err := s.adapter.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize persistence: %w", err)
	}
	ids, err := s.adapter.List(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	for _, id := range ids {
		conv, err := s.adapter.Load(ctx, id)
		if err != nil {
			s.logger.Warn("failed to load conversation", "id", id, "error", err)
			continue
		}
		e := &entry{conv: conv, idx: indexByID(conv.History)}
		s.mu.Lock()
		s.convs[id] = e
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) get(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.convs[id]
	return e, ok
}

// Create registers a new conversation rooted at the given event.
func (s *Store) Create(ctx context.Context, root *models.Event) *models.Conversation {
	s.mu.Lock()
	if existing, ok := s.convs[root.ID]; ok {
		s.mu.Unlock()
		return existing.snapshot()
	}
	now := time.Now()
	conv := &models.Conversation{
		ID:          root.ID,
		Title:       titleFrom(root.Content),
		History:     []*models.Event{root},
		AgentStates: make(map[string]*models.AgentState),
		Metadata:    make(map[string]any),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if phase, ok := root.TagValue(models.TagPhase); ok {
		conv.Phase = phase
	}
	e := &entry{conv: conv, idx: map[string]int{root.ID: 0}}
	s.convs[conv.ID] = e
	s.mu.Unlock()

	s.persist(ctx, e)
	return e.snapshot()
}

// UpsertEvent appends an event to a conversation's history. Duplicate
// ids are idempotent no-ops. An event without a root reference creates
// the conversation.
func (s *Store) UpsertEvent(ctx context.Context, convID string, ev *models.Event) (*models.Conversation, error) {
	if convID == "" {
		if rootID, ok := ev.RootID(); ok {
			convID = rootID
		} else {
			return s.Create(ctx, ev), nil
		}
	}
	e, ok := s.get(convID)
	if !ok {
		if _, hasRoot := ev.RootID(); !hasRoot && ev.ID == convID {
			return s.Create(ctx, ev), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, convID)
	}

	e.mu.Lock()
	if _, dup := e.idx[ev.ID]; !dup {
		e.idx[ev.ID] = len(e.conv.History)
		e.conv.History = append(e.conv.History, ev)
		e.conv.UpdatedAt = time.Now()
		if phase, ok := ev.TagValue(models.TagPhase); ok && phase != "" {
			e.conv.Phase = phase
		}
	}
	e.mu.Unlock()

	s.persist(ctx, e)
	return e.snapshot(), nil
}

// Get returns a committed snapshot of a conversation.
func (s *Store) Get(id string) (*models.Conversation, error) {
	e, ok := s.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.snapshot(), nil
}

// ConversationForEvent resolves the conversation an event belongs to,
// via its root tag or its own id.
func (s *Store) ConversationForEvent(ev *models.Event) (*models.Conversation, error) {
	if rootID, ok := ev.RootID(); ok {
		return s.Get(rootID)
	}
	return s.Get(ev.ID)
}

// UpdateAgentState applies a partial update to one agent's state under
// the per-conversation lock. The state is created lazily on first use.
func (s *Store) UpdateAgentState(ctx context.Context, convID, agentSlug string, update func(*models.AgentState)) error {
	e, ok := s.get(convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, convID)
	}
	e.mu.Lock()
	if e.conv.AgentStates == nil {
		e.conv.AgentStates = make(map[string]*models.AgentState)
	}
	state, ok := e.conv.AgentStates[agentSlug]
	if !ok {
		state = &models.AgentState{SessionsByPhase: make(map[string]string)}
		e.conv.AgentStates[agentSlug] = state
	}
	update(state)
	e.conv.UpdatedAt = time.Now()
	e.mu.Unlock()

	s.persist(ctx, e)
	return nil
}

// AgentState returns a copy of one agent's state, creating it lazily.
func (s *Store) AgentState(convID, agentSlug string) (*models.AgentState, error) {
	e, ok := s.get(convID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, convID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.conv.AgentStates[agentSlug]; ok {
		return state.Clone(), nil
	}
	return &models.AgentState{SessionsByPhase: make(map[string]string)}, nil
}

// UpdatePhase changes the conversation phase and appends an audit entry.
func (s *Store) UpdatePhase(ctx context.Context, convID, phase, reason, actorPubkey, actorName string) error {
	e, ok := s.get(convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, convID)
	}
	e.mu.Lock()
	from := e.conv.Phase
	e.conv.Phase = phase
	e.conv.PhaseTransitions = append(e.conv.PhaseTransitions, models.PhaseTransition{
		From:        from,
		To:          phase,
		Reason:      reason,
		ActorPubkey: actorPubkey,
		ActorName:   actorName,
		At:          time.Now(),
	})
	e.conv.UpdatedAt = time.Now()
	e.mu.Unlock()

	s.persist(ctx, e)
	return nil
}

// UpdateMetadata merges the delta into the conversation metadata.
func (s *Store) UpdateMetadata(ctx context.Context, convID string, delta map[string]any) error {
	e, ok := s.get(convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, convID)
	}
	e.mu.Lock()
	if e.conv.Metadata == nil {
		e.conv.Metadata = make(map[string]any)
	}
	for k, v := range delta {
		e.conv.Metadata[k] = v
	}
	e.conv.UpdatedAt = time.Now()
	e.mu.Unlock()

	s.persist(ctx, e)
	return nil
}

// MarkProcessed records that an event has been dispatched to agents.
func (s *Store) MarkProcessed(ctx context.Context, convID, eventID string) error {
	e, ok := s.get(convID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, convID)
	}
	e.mu.Lock()
	for _, id := range e.conv.ProcessedEventIDs {
		if id == eventID {
			e.mu.Unlock()
			return nil
		}
	}
	e.conv.ProcessedEventIDs = append(e.conv.ProcessedEventIDs, eventID)
	e.mu.Unlock()

	s.persist(ctx, e)
	return nil
}

// StartExecution marks the conversation as actively executing.
func (s *Store) StartExecution(convID string) {
	if e, ok := s.get(convID); ok {
		e.mu.Lock()
		e.conv.ExecutionTime.IsActive = true
		e.conv.ExecutionTime.LastUpdated = time.Now()
		e.mu.Unlock()
	}
}

// StopExecution accrues elapsed execution time and clears the active flag.
func (s *Store) StopExecution(convID string) {
	if e, ok := s.get(convID); ok {
		e.mu.Lock()
		if e.conv.ExecutionTime.IsActive {
			elapsed := time.Since(e.conv.ExecutionTime.LastUpdated)
			e.conv.ExecutionTime.TotalSeconds += int64(elapsed.Seconds())
			e.conv.ExecutionTime.IsActive = false
			e.conv.ExecutionTime.LastUpdated = time.Now()
		}
		e.mu.Unlock()
	}
}

// End removes a conversation from the store.
func (s *Store) End(ctx context.Context, convID string) error {
	s.mu.Lock()
	e, ok := s.convs[convID]
	if ok {
		delete(s.convs, convID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, convID)
	}
	s.persist(ctx, e)
	return nil
}

// Search returns conversations whose title or id contains the query,
// most recently updated first.
func (s *Store) Search(query string) []*models.Conversation {
	q := strings.ToLower(query)
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.convs))
	for _, e := range s.convs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*models.Conversation
	for _, e := range entries {
		snap := e.snapshot()
		if q == "" || strings.Contains(strings.ToLower(snap.Title), q) || strings.Contains(strings.ToLower(snap.ID), q) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	return out
}

// List returns snapshots of all live conversations.
func (s *Store) List() []*models.Conversation {
	return s.Search("")
}

func (s *Store) persist(ctx context.Context, e *entry) {
	if s.adapter == nil {
		return
	}
	snap := e.snapshot()
	if err := s.adapter.Save(ctx, snap.ID, snap); err != nil {
		s.logger.Warn("failed to persist conversation", "id", snap.ID, "error", err)
	}
}

// snapshot returns a committed copy safe for concurrent readers. Events
// are immutable, so the history slice is copied shallowly.
func (e *entry) snapshot() *models.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.conv
	cp.History = make([]*models.Event, len(e.conv.History))
	copy(cp.History, e.conv.History)
	if e.conv.AgentStates != nil {
		cp.AgentStates = make(map[string]*models.AgentState, len(e.conv.AgentStates))
		for k, v := range e.conv.AgentStates {
			cp.AgentStates[k] = v.Clone()
		}
	}
	if e.conv.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.conv.Metadata))
		for k, v := range e.conv.Metadata {
			cp.Metadata[k] = v
		}
	}
	if e.conv.TodosByAgent != nil {
		cp.TodosByAgent = make(map[string][]models.TodoItem, len(e.conv.TodosByAgent))
		for k, v := range e.conv.TodosByAgent {
			cp.TodosByAgent[k] = append([]models.TodoItem(nil), v...)
		}
	}
	cp.ProcessedEventIDs = append([]string(nil), e.conv.ProcessedEventIDs...)
	cp.PhaseTransitions = append([]models.PhaseTransition(nil), e.conv.PhaseTransitions...)
	return &cp
}

func titleFrom(content string) string {
	title := strings.TrimSpace(content)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}
