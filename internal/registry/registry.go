// Package registry implements the Registration Registry (C4): the
// single source of truth for "has this agent finished booting?". It
// tracks one RegistrationRecord per session name and lets callers block
// until a session reaches active, with FIFO-fair wakeup.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is a RegistrationRecord's lifecycle state. Transitions only
// move forward: Inactive -> Activating -> Active, except via Remove.
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusActivating Status = "activating"
	StatusActive     Status = "active"
)

// Record is one session's registration state (spec.md §4.4
// RegistrationRecord). ReadyAt is set once, on the Activating->Active
// transition, and never changes again while the record lives.
type Record struct {
	SessionName string
	Role        string
	MemberID    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ReadyAt     *time.Time
}

var (
	// ErrTimedOut is returned by WaitActive when the deadline passes
	// before the record becomes active.
	ErrTimedOut = errors.New("registry: wait timed out")
	// ErrCancelled is returned by WaitActive when ctx is done first.
	ErrCancelled = errors.New("registry: wait cancelled")
)

// Mirror is implemented by the State Store (G3): the registry mirrors
// every transition of the well-known orchestrator slot into the
// persisted JSON document through this narrow interface, so C4 does
// not depend on G3's file-locking details. sessionName is always the
// orchestrator's session name, so the mirror can populate the
// document's sessionId field (spec.md §6) without the Registry
// reaching into G3's Document type.
type Mirror interface {
	UpdateOrchestratorStatus(sessionName string, status Status, at time.Time) error
}

// noopMirror is used when the Registry is built without persistence
// (e.g. in tests), so every call site can treat mirror as non-nil.
type noopMirror struct{}

func (noopMirror) UpdateOrchestratorStatus(string, Status, time.Time) error { return nil }

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Registry is the process-wide store of session registration state.
// The orchestratorName distinguishes the one record that gets mirrored
// to the JSON state document, by session-name equality, not by role.
type Registry struct {
	mu              sync.Mutex
	records         map[string]*Record
	waiters         map[string]chan struct{}
	orchestratorName string
	mirror          Mirror
	now             Clock
}

// New returns a Registry. orchestratorName identifies the session whose
// transitions mirror into the persisted state document via mirror; pass
// a nil mirror to disable mirroring (e.g. in unit tests).
func New(orchestratorName string, mirror Mirror) *Registry {
	if mirror == nil {
		mirror = noopMirror{}
	}
	return &Registry{
		records:          make(map[string]*Record),
		waiters:          make(map[string]chan struct{}),
		orchestratorName: orchestratorName,
		mirror:           mirror,
		now:              time.Now,
	}
}

// WithClock overrides the clock; used by tests.
func (r *Registry) WithClock(c Clock) *Registry {
	r.now = c
	return r
}

// MarkActivating creates or updates sessionName's record to Activating.
// It never moves a record backward: an already-Active record is left
// untouched (P1).
func (r *Registry) MarkActivating(sessionName, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	rec, ok := r.records[sessionName]
	if !ok {
		r.records[sessionName] = &Record{
			SessionName: sessionName,
			Role:        role,
			Status:      StatusActivating,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		r.mirrorIfOrchestrator(sessionName, StatusActivating, now)
		return
	}
	if rec.Status == StatusActive {
		// P1: never move backward. Treated as a no-op, same spirit as
		// RegistryConflict in spec.md §7.
		return
	}
	rec.Role = role
	rec.Status = StatusActivating
	rec.UpdatedAt = now
	r.mirrorIfOrchestrator(sessionName, StatusActivating, now)
}

// MarkActive sets sessionName's record to Active, fixes ReadyAt, and
// releases every waiter on that session. Calling it on an already-Active
// record with a different role is accepted as a no-op (RegistryConflict,
// spec.md §7) rather than an error.
func (r *Registry) MarkActive(sessionName, role, memberID string) {
	r.mu.Lock()
	now := r.now()
	rec, ok := r.records[sessionName]
	if !ok {
		rec = &Record{SessionName: sessionName, CreatedAt: now}
		r.records[sessionName] = rec
	}
	alreadyActive := rec.Status == StatusActive
	if !alreadyActive {
		rec.Status = StatusActive
		ready := now
		rec.ReadyAt = &ready
	}
	if !alreadyActive || rec.Role == "" {
		rec.Role = role
	}
	if memberID != "" {
		rec.MemberID = memberID
	}
	rec.UpdatedAt = now

	ch, hasWaiters := r.waiters[sessionName]
	delete(r.waiters, sessionName)
	r.mu.Unlock()

	if hasWaiters {
		close(ch) // releases every blocked WaitActive call, together
	}
	r.mirrorIfOrchestrator(sessionName, StatusActive, now)
}

// Get returns a copy of sessionName's record, if any.
func (r *Registry) Get(sessionName string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionName]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Remove deletes sessionName's record, used when a session is killed.
// Any in-flight waiters are released with ErrCancelled rather than left
// to time out.
func (r *Registry) Remove(sessionName string) {
	r.mu.Lock()
	delete(r.records, sessionName)
	ch, hasWaiters := r.waiters[sessionName]
	delete(r.waiters, sessionName)
	r.mu.Unlock()
	if hasWaiters {
		close(ch)
	}
	if sessionName == r.orchestratorName {
		_ = r.mirror.UpdateOrchestratorStatus(sessionName, StatusInactive, r.now())
	}
}

// WaitActive blocks until sessionName's record becomes Active, ctx is
// done, or deadline passes — whichever is first. Multiple concurrent
// waiters on the same sessionName are released together by one
// MarkActive or Remove call (FIFO-fair: they all unblock on the same
// channel close, so no waiter is favored over another).
func (r *Registry) WaitActive(ctx context.Context, sessionName string, deadline time.Time) error {
	r.mu.Lock()
	if rec, ok := r.records[sessionName]; ok && rec.Status == StatusActive {
		r.mu.Unlock()
		return nil
	}
	ch, ok := r.waiters[sessionName]
	if !ok {
		ch = make(chan struct{})
		r.waiters[sessionName] = ch
	}
	r.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ch:
		r.mu.Lock()
		rec, ok := r.records[sessionName]
		r.mu.Unlock()
		if ok && rec.Status == StatusActive {
			return nil
		}
		// Released via Remove rather than MarkActive.
		return ErrCancelled
	case <-timer.C:
		return ErrTimedOut
	case <-ctx.Done():
		return ErrCancelled
	}
}

func (r *Registry) mirrorIfOrchestrator(sessionName string, status Status, at time.Time) {
	if sessionName != r.orchestratorName {
		return
	}
	_ = r.mirror.UpdateOrchestratorStatus(sessionName, status, at)
}

// RegisterAgent is the single operation the core exposes to the outside
// world (spec.md §6 "Registration callback"). On status == "active" the
// registry is updated; any other value is logged by the caller (the
// external API layer) and ignored here — RegisterAgent itself only
// handles the active case, matching spec.md's "on any other value ...
// nothing changes".
func (r *Registry) RegisterAgent(sessionName, role, memberID, status string) {
	if status != string(StatusActive) {
		return
	}
	r.MarkActive(sessionName, role, memberID)
}
