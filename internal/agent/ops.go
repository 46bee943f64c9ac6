package agent

import (
	"context"
	"sync"
)

type opKey struct {
	agent          string
	conversationID string
}

// Operation is a registered in-flight model turn. Its Context is
// cancelled when a newer turn supersedes it.
type Operation struct {
	ctx      context.Context
	cancel   context.CancelFunc
	registry *OpsRegistry
	key      opKey
}

// Context returns the cancellation-scoped context for this turn.
func (o *Operation) Context() context.Context {
	return o.ctx
}

// Complete removes the operation from the registry if it is still the
// installed one, and releases its context.
func (o *Operation) Complete() {
	o.registry.complete(o)
	o.cancel()
}

// OpsRegistry tracks in-flight model operations per (agent,
// conversation). Registering a new operation cancels any prior one
// under the same key: the newest trigger wins.
type OpsRegistry struct {
	mu  sync.Mutex
	ops map[opKey]*Operation
}

// NewOpsRegistry creates an empty registry.
func NewOpsRegistry() *OpsRegistry {
	return &OpsRegistry{ops: make(map[opKey]*Operation)}
}

// RegisterOperation installs a fresh cancellation scope for the key,
// cancelling any operation already registered under it.
func (r *OpsRegistry) RegisterOperation(ctx context.Context, agent, conversationID string) *Operation {
	key := opKey{agent: agent, conversationID: conversationID}
	opCtx, cancel := context.WithCancel(ctx)
	op := &Operation{ctx: opCtx, cancel: cancel, registry: r, key: key}

	r.mu.Lock()
	prev := r.ops[key]
	r.ops[key] = op
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return op
}

// Cancel trips the cancellation signal of the operation currently
// registered for the key, if any.
func (r *OpsRegistry) Cancel(agent, conversationID string) {
	r.mu.Lock()
	op := r.ops[opKey{agent: agent, conversationID: conversationID}]
	r.mu.Unlock()
	if op != nil {
		op.cancel()
	}
}

// Active returns the number of registered operations.
func (r *OpsRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

func (r *OpsRegistry) complete(op *Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops[op.key] == op {
		delete(r.ops, op.key)
	}
}
