// Package eventbus implements the in-process publish/subscribe bus
// (spec.md §6 "Event bus"): every status transition of a
// WorkflowExecution or WorkflowStep is published here. The engine never
// blocks on a slow or absent subscriber — Publish is always
// non-blocking, following the teacher's events package's own
// best-effort recording stance.
package eventbus

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Kind distinguishes the two event shapes the Workflow Engine emits.
type Kind string

const (
	KindExecution Kind = "execution"
	KindStep      Kind = "step"
)

// Event is {ts, executionId, stepId?, kind, status, detail?} per
// spec.md §6. There is no ordering guarantee between different
// executions; within one executionId, events are published (and thus
// delivered to each subscriber) in the order Publish was called.
type Event struct {
	Ts          time.Time `json:"ts"`
	ExecutionID string    `json:"executionId"`
	StepID      string    `json:"stepId,omitempty"`
	Kind        Kind      `json:"kind"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
}

// subscriberBuffer is the per-subscriber channel capacity. A slow
// subscriber that falls behind by this many events starts losing newly
// published events (Publish drops them and keeps the queued backlog)
// rather than stalling the publisher.
const subscriberBuffer = 256

// Bus fans Publish calls out to every current subscriber.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	stderr      io.Writer
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int]chan Event), stderr: os.Stderr}
}

// Subscribe registers a new subscriber and returns its event channel
// plus an unsubscribe function. The channel is closed by unsubscribe;
// callers MUST call it to avoid leaking the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

// Publish fans e out to every current subscriber. Ts is filled in if
// zero. Never blocks: a subscriber whose buffer is full drops the
// event and a warning is written to stderr — the engine's own
// execution is never slowed or failed by a stalled subscriber.
func (b *Bus) Publish(e Event) {
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			fmt.Fprintf(b.stderr, "eventbus: subscriber %d backlog full, dropping event %s/%s\n", id, e.ExecutionID, e.Status) //nolint:errcheck
		}
	}
}
