package nostr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tenex-chat/tenex/internal/backoff"
	"github.com/tenex-chat/tenex/pkg/models"
)

const (
	relayWriteWait   = 10 * time.Second
	relayPongWait    = 45 * time.Second
	relayPingPeriod  = 15 * time.Second
	relayOKWait      = 10 * time.Second
	relayFetchWait   = 10 * time.Second
	relayMaxPayload  = 1 << 20
	relaySubBuffer   = 64
)

// RelayClient is a minimal websocket relay client speaking the
// REQ/EVENT/EOSE/OK framing. It reconnects with exponential backoff and
// re-issues live subscriptions after a reconnect.
type RelayClient struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*relaySub
	okWait  map[string]chan okResult
	fetches map[string]*fetchWait
	closed  bool
}

type relaySub struct {
	id     string
	filter Filter
	ch     chan *models.Event
	done   <-chan struct{}
}

type okResult struct {
	accepted bool
	reason   string
}

type fetchWait struct {
	ch   chan *models.Event
	eose chan struct{}
}

// NewRelayClient creates a client for the given relay URL.
func NewRelayClient(url string, logger *slog.Logger) *RelayClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayClient{
		url:     url,
		logger:  logger,
		subs:    make(map[string]*relaySub),
		okWait:  make(map[string]chan okResult),
		fetches: make(map[string]*fetchWait),
	}
}

// Connect dials the relay and starts the read loop. It retries with
// exponential backoff until the context is cancelled.
func (c *RelayClient) Connect(ctx context.Context) error {
	_, err := backoff.Retry(ctx, backoff.DefaultPolicy(), 5, func(attempt int) (struct{}, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("relay dial failed", "url", c.url, "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		conn.SetReadLimit(relayMaxPayload)
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.url, err)
	}
	go c.readLoop(ctx)
	go c.pingLoop(ctx)
	c.resubscribe()
	return nil
}

// Close tears down the connection and all subscriptions.
func (c *RelayClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Publish implements Publisher. It waits for the relay's OK
// acknowledgement up to a bounded interval.
func (c *RelayClient) Publish(ctx context.Context, ev *models.Event) error {
	ok := make(chan okResult, 1)
	c.mu.Lock()
	c.okWait[ev.ID] = ok
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.okWait, ev.ID)
		c.mu.Unlock()
	}()

	if err := c.writeJSON([]any{"EVENT", ev}); err != nil {
		return err
	}
	select {
	case res := <-ok:
		if !res.accepted {
			return fmt.Errorf("relay rejected event %s: %s", ev.ID, res.reason)
		}
		return nil
	case <-time.After(relayOKWait):
		// Relays are not required to acknowledge; treat silence as sent.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchEvent implements Fetcher by issuing a one-shot REQ for the id.
func (c *RelayClient) FetchEvent(ctx context.Context, ref string) (*models.Event, error) {
	id := entityToID(ref)
	subID := "fetch-" + uuid.NewString()[:8]
	wait := &fetchWait{ch: make(chan *models.Event, 1), eose: make(chan struct{}, 1)}
	c.mu.Lock()
	c.fetches[subID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.fetches, subID)
		c.mu.Unlock()
		_ = c.writeJSON([]any{"CLOSE", subID})
	}()

	if err := c.writeJSON([]any{"REQ", subID, Filter{IDs: []string{id}, Limit: 1}}); err != nil {
		return nil, err
	}
	select {
	case ev := <-wait.ch:
		return ev, nil
	case <-wait.eose:
		return nil, ErrNotFound
	case <-time.After(relayFetchWait):
		return nil, ErrNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe implements Subscriber.
func (c *RelayClient) Subscribe(ctx context.Context, f Filter) (<-chan *models.Event, error) {
	sub := &relaySub{
		id:     "sub-" + uuid.NewString()[:8],
		filter: f,
		ch:     make(chan *models.Event, relaySubBuffer),
		done:   ctx.Done(),
	}
	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	if err := c.writeJSON([]any{"REQ", sub.id, f}); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		_ = c.writeJSON([]any{"CLOSE", sub.id})
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (c *RelayClient) writeJSON(frame []any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *RelayClient) resubscribe() {
	c.mu.Lock()
	subs := make([]*relaySub, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		if err := c.writeJSON([]any{"REQ", s.id, s.filter}); err != nil {
			c.logger.Warn("resubscribe failed", "sub", s.id, "error", err)
		}
	}
}

func (c *RelayClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(relayPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (c *RelayClient) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(relayPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(relayPongWait))
		})
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("relay read failed, reconnecting", "url", c.url, "error", err)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			if err := c.Connect(ctx); err != nil {
				c.logger.Error("relay reconnect failed", "url", c.url, "error", err)
			}
			return
		}
		c.handleFrame(payload)
	}
}

func (c *RelayClient) handleFrame(payload []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil || len(frame) == 0 {
		return
	}
	var kind string
	if err := json.Unmarshal(frame[0], &kind); err != nil {
		return
	}
	switch kind {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		var ev models.Event
		if json.Unmarshal(frame[1], &subID) != nil || json.Unmarshal(frame[2], &ev) != nil {
			return
		}
		c.dispatchEvent(subID, &ev)
	case "OK":
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		var reason string
		_ = json.Unmarshal(frame[1], &id)
		_ = json.Unmarshal(frame[2], &accepted)
		if len(frame) > 3 {
			_ = json.Unmarshal(frame[3], &reason)
		}
		c.mu.Lock()
		ch := c.okWait[id]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- okResult{accepted: accepted, reason: reason}:
			default:
			}
		}
	case "EOSE":
		if len(frame) < 2 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)
		c.mu.Lock()
		wait := c.fetches[subID]
		c.mu.Unlock()
		if wait != nil {
			select {
			case wait.eose <- struct{}{}:
			default:
			}
		}
	}
}

func (c *RelayClient) dispatchEvent(subID string, ev *models.Event) {
	c.mu.Lock()
	wait := c.fetches[subID]
	sub := c.subs[subID]
	c.mu.Unlock()
	if wait != nil {
		select {
		case wait.ch <- ev:
		default:
		}
		return
	}
	if sub != nil {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// entityToID strips a known bech32-style prefix, leaving the raw id for
// relays that accept hex ids in filters.
func entityToID(ref string) string {
	for _, prefix := range []string{"nevent1", "note1", "naddr1", "npub1", "nprofile1"} {
		if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
			return ref[len(prefix):]
		}
	}
	return ref
}
