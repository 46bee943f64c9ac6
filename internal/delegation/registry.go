// Package delegation tracks outbound delegations between agents,
// correlates inbound responses, and aggregates multi-target delegations
// with at-most-once completion.
package delegation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenex-chat/tenex/pkg/models"
)

// Status is the lifecycle state of a delegation record. Transitions are
// monotonic: pending may move to exactly one of the terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusComplete  Status = "complete"
	StatusTimedOut  Status = "timed-out"
	StatusCancelled Status = "cancelled"
)

// ResponseOutcome describes what RecordResponse did with an event.
type ResponseOutcome string

const (
	// ResponseStored means the response was recorded and more targets
	// are still outstanding.
	ResponseStored ResponseOutcome = "stored"

	// ResponseCompleted means the response was the last outstanding one
	// and the resume hook fired.
	ResponseCompleted ResponseOutcome = "completed"

	// ResponseIgnored means no pending record matched, the sender was
	// not a target, or the target already responded.
	ResponseIgnored ResponseOutcome = "ignored"
)

// ErrNoTargets is returned when a delegation is registered without any
// recipient.
var ErrNoTargets = errors.New("delegation: no targets")

// Result is delivered to the delegating agent when a delegation
// resolves. Responses may be partial when Status is timed-out.
type Result struct {
	DelegationID    string
	Status          Status
	OriginalRequest string
	Responses       map[string]*models.Event // responding pubkey -> event
}

// Handle is the caller's view of a registered delegation. Done yields
// exactly one Result unless the delegation is cancelled, in which case
// it never yields.
type Handle struct {
	ID   string
	Done <-chan Result
}

type record struct {
	id              string
	conversationID  string
	delegatingAgent string
	targets         map[string]bool
	originalRequest string
	startedAt       time.Time
	timeoutAt       time.Time
	responses       map[string]*models.Event
	status          Status
	resume          chan Result
	timer           *time.Timer
}

type indexKey struct {
	conversationID  string
	delegatingAgent string
	respondingAgent string
}

// Registry owns all delegation records. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record
	index   map[indexKey]string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[string]*record),
		index:   make(map[indexKey]string),
		logger:  logger,
	}
}

// Register creates a pending delegation from delegatingAgent to the
// target pubkeys and arms its timeout. The returned handle resolves
// once, with the complete response map or a partial one on timeout.
func (r *Registry) Register(conversationID, delegatingAgent string, targets []string, originalRequest string, timeout time.Duration) (*Handle, error) {
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t != "" {
			targetSet[t] = true
		}
	}
	if len(targetSet) == 0 {
		return nil, ErrNoTargets
	}

	rec := &record{
		id:              uuid.NewString(),
		conversationID:  conversationID,
		delegatingAgent: delegatingAgent,
		targets:         targetSet,
		originalRequest: originalRequest,
		startedAt:       time.Now(),
		timeoutAt:       time.Now().Add(timeout),
		responses:       make(map[string]*models.Event),
		status:          StatusPending,
		resume:          make(chan Result, 1),
	}

	r.mu.Lock()
	r.records[rec.id] = rec
	for target := range targetSet {
		r.index[indexKey{conversationID, delegatingAgent, target}] = rec.id
	}
	rec.timer = time.AfterFunc(timeout, func() { r.timeOut(rec.id) })
	r.mu.Unlock()

	return &Handle{ID: rec.id, Done: rec.resume}, nil
}

// RecordResponse correlates an inbound event with a pending delegation.
// The first response per target wins; extras and non-targets are
// ignored with a warning. When the last outstanding target responds,
// the record completes and the resume hook fires exactly once.
func (r *Registry) RecordResponse(conversationID, delegatingAgent, fromAgent string, ev *models.Event) ResponseOutcome {
	r.mu.Lock()
	id, ok := r.index[indexKey{conversationID, delegatingAgent, fromAgent}]
	if !ok {
		r.mu.Unlock()
		return ResponseIgnored
	}
	rec, ok := r.records[id]
	if !ok || rec.status != StatusPending {
		r.mu.Unlock()
		return ResponseIgnored
	}
	if !rec.targets[fromAgent] {
		r.mu.Unlock()
		r.logger.Warn("delegation response from non-target",
			"delegation", id, "from", fromAgent)
		return ResponseIgnored
	}
	if _, dup := rec.responses[fromAgent]; dup {
		r.mu.Unlock()
		r.logger.Warn("duplicate delegation response ignored",
			"delegation", id, "from", fromAgent)
		return ResponseIgnored
	}

	rec.responses[fromAgent] = ev
	if len(rec.responses) < len(rec.targets) {
		r.mu.Unlock()
		return ResponseStored
	}

	rec.status = StatusComplete
	result := rec.result()
	r.remove(rec)
	r.mu.Unlock()

	rec.resume <- result
	return ResponseCompleted
}

// HasPending reports whether a pending delegation exists from
// delegatingAgent to respondingAgent within a conversation. The role
// assigner uses this to label inbound events as delegation responses.
func (r *Registry) HasPending(conversationID, delegatingAgent, respondingAgent string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.index[indexKey{conversationID, delegatingAgent, respondingAgent}]
	if !ok {
		return false
	}
	rec, ok := r.records[id]
	return ok && rec.status == StatusPending
}

// Get returns a snapshot of a delegation record.
func (r *Registry) Get(id string) (Result, Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Result{}, "", false
	}
	return rec.result(), rec.status, true
}

// Cancel administratively tears down a pending delegation. The resume
// hook never fires for a cancelled delegation.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.status != StatusPending {
		return
	}
	rec.status = StatusCancelled
	r.remove(rec)
}

// timeOut resolves a still-pending record with whatever responses exist.
func (r *Registry) timeOut(id string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || rec.status != StatusPending {
		r.mu.Unlock()
		return
	}
	rec.status = StatusTimedOut
	result := rec.result()
	r.remove(rec)
	r.mu.Unlock()

	r.logger.Warn("delegation timed out",
		"delegation", id,
		"responses", len(result.Responses),
		"targets", len(rec.targets))
	rec.resume <- result
}

// remove drops the record and its index entries. Caller holds the lock.
func (r *Registry) remove(rec *record) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	delete(r.records, rec.id)
	for target := range rec.targets {
		delete(r.index, indexKey{rec.conversationID, rec.delegatingAgent, target})
	}
}

func (rec *record) result() Result {
	responses := make(map[string]*models.Event, len(rec.responses))
	for k, v := range rec.responses {
		responses[k] = v
	}
	return Result{
		DelegationID:    rec.id,
		Status:          rec.status,
		OriginalRequest: rec.originalRequest,
		Responses:       responses,
	}
}

// Pending returns the number of live records, for diagnostics.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (s Status) String() string { return string(s) }
