package nostr

import (
	"context"
	"strings"
	"sync"

	"github.com/tenex-chat/tenex/pkg/models"
)

// MemoryTransport is an in-process Transport used by tests and offline
// runs. Published events are retained and fanned out to live
// subscriptions.
type MemoryTransport struct {
	mu     sync.Mutex
	events []*models.Event
	byID   map[string]*models.Event
	subs   map[int]*memSub
	nextID int
}

type memSub struct {
	filter Filter
	ch     chan *models.Event
	done   <-chan struct{}
}

// NewMemoryTransport creates an empty in-memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		byID: make(map[string]*models.Event),
		subs: make(map[int]*memSub),
	}
}

// Publish implements Publisher. Duplicate ids are ignored.
func (m *MemoryTransport) Publish(_ context.Context, ev *models.Event) error {
	m.mu.Lock()
	if _, ok := m.byID[ev.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	cp := ev.Clone()
	m.events = append(m.events, cp)
	m.byID[cp.ID] = cp
	subs := make([]*memSub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		if !s.filter.Matches(cp) {
			continue
		}
		select {
		case s.ch <- cp:
		case <-s.done:
		}
	}
	return nil
}

// FetchEvent implements Fetcher. Bech32-style refs resolve by suffix
// match against stored ids so tests can use short synthetic references.
func (m *MemoryTransport) FetchEvent(_ context.Context, ref string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.byID[ref]; ok {
		return ev.Clone(), nil
	}
	for _, prefix := range []string{"nevent1", "note1", "naddr1", "npub1", "nprofile1"} {
		if id, ok := strings.CutPrefix(ref, prefix); ok {
			if ev, found := m.byID[id]; found {
				return ev.Clone(), nil
			}
		}
	}
	return nil, ErrNotFound
}

// Subscribe implements Subscriber.
func (m *MemoryTransport) Subscribe(ctx context.Context, f Filter) (<-chan *models.Event, error) {
	sub := &memSub{filter: f, ch: make(chan *models.Event, 64), done: ctx.Done()}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

// Events returns a snapshot of everything published, in order.
func (m *MemoryTransport) Events() []*models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfKind returns published events of one kind, in order.
func (m *MemoryTransport) EventsOfKind(kind models.EventKind) []*models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Event
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
