package agent

import (
	"sync"
	"time"
)

// Streaming flush schedule. Consecutive emissions are at least
// MinInterval apart; a fed delta waits at most MaxLatency before it is
// emitted.
const (
	MinInterval = 1000 * time.Millisecond
	MaxLatency  = 1500 * time.Millisecond
)

// EmitFunc delivers one accumulated buffer to the transport.
type EmitFunc func(content string, reasoning bool)

// StreamingPublisher coalesces streamed deltas into periodic emissions.
// It keeps separate buffers for regular and reasoning text and emits
// them on a minimum-interval / maximum-latency schedule. A publisher
// serves a single stream; Feed calls preserve delta order.
type StreamingPublisher struct {
	mu          sync.Mutex
	emit        EmitFunc
	regular     []byte
	reasoning   []byte
	lastPublish time.Time
	timer       *time.Timer
	now         func() time.Time
}

// NewStreamingPublisher creates a publisher that delivers buffers
// through emit.
func NewStreamingPublisher(emit EmitFunc) *StreamingPublisher {
	return &StreamingPublisher{
		emit: emit,
		now:  time.Now,
	}
}

// Feed appends a delta to the appropriate buffer and either flushes
// immediately (when the last publish is old enough) or schedules a
// flush within the latency bound.
func (p *StreamingPublisher) Feed(delta string, isReasoning bool) {
	if delta == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if isReasoning {
		p.reasoning = append(p.reasoning, delta...)
	} else {
		p.regular = append(p.regular, delta...)
	}
	p.cancelTimerLocked()

	now := p.now()
	if !p.lastPublish.IsZero() && now.Sub(p.lastPublish) >= MinInterval {
		p.flushLocked()
		return
	}

	delay := MinInterval
	if !p.lastPublish.IsZero() {
		delay = MinInterval - now.Sub(p.lastPublish)
		if delay < 0 {
			delay = 0
		}
		if delay > MaxLatency {
			delay = MaxLatency
		}
	}
	p.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.timer = nil
		p.flushLocked()
	})
}

// Flush emits any buffered content now: one event per non-empty buffer,
// reasoning first.
func (p *StreamingPublisher) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelTimerLocked()
	p.flushLocked()
}

// ForceFlush cancels any pending timer and flushes remaining content.
// It is the terminal call on a stream; further feeds start a new cycle.
func (p *StreamingPublisher) ForceFlush() {
	p.Flush()
}

func (p *StreamingPublisher) flushLocked() {
	if len(p.reasoning) == 0 && len(p.regular) == 0 {
		return
	}
	if len(p.reasoning) > 0 {
		p.emit(string(p.reasoning), true)
		p.reasoning = p.reasoning[:0]
	}
	if len(p.regular) > 0 {
		p.emit(string(p.regular), false)
		p.regular = p.regular[:0]
	}
	p.lastPublish = p.now()
}

func (p *StreamingPublisher) cancelTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
