package registry

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingMirror struct {
	mu    sync.Mutex
	logs  []Status
	names []string
}

func (m *recordingMirror) UpdateOrchestratorStatus(sessionName string, s Status, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, s)
	m.names = append(m.names, sessionName)
	return nil
}

func TestMarkActive_ReleasesAllWaiters(t *testing.T) {
	r := New("orchestrator", nil)
	r.MarkActivating("s1", "developer")

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- r.WaitActive(context.Background(), "s1", time.Now().Add(time.Second))
		}()
	}
	time.Sleep(10 * time.Millisecond) // let goroutines register as waiters
	r.MarkActive("s1", "developer", "")

	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Fatalf("waiter %d: unexpected error %v", i, err)
		}
	}
}

func TestWaitActive_TimesOut(t *testing.T) {
	r := New("orchestrator", nil)
	r.MarkActivating("s1", "developer")
	err := r.WaitActive(context.Background(), "s1", time.Now().Add(20*time.Millisecond))
	if err != ErrTimedOut {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestWaitActive_CancelledByContext(t *testing.T) {
	r := New("orchestrator", nil)
	r.MarkActivating("s1", "developer")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.WaitActive(ctx, "s1", time.Now().Add(time.Second))
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

// P1: once active, never moves back to activating/inactive except via Remove.
func TestActive_NeverMovesBackward(t *testing.T) {
	r := New("orchestrator", nil)
	r.MarkActivating("s1", "developer")
	r.MarkActive("s1", "developer", "m1")
	r.MarkActivating("s1", "developer")

	rec, ok := r.Get("s1")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Status != StatusActive {
		t.Fatalf("expected status to remain active, got %s", rec.Status)
	}
}

func TestMarkActive_Idempotent_ReadyAtFixed(t *testing.T) {
	r := New("orchestrator", nil)
	r.MarkActivating("s1", "developer")
	r.MarkActive("s1", "developer", "")
	rec1, _ := r.Get("s1")

	r.MarkActive("s1", "qa", "") // RegistryConflict: different role, no-op beyond bookkeeping
	rec2, _ := r.Get("s1")

	if rec1.ReadyAt == nil || rec2.ReadyAt == nil {
		t.Fatal("expected ReadyAt to be set")
	}
	if !rec1.ReadyAt.Equal(*rec2.ReadyAt) {
		t.Fatalf("expected ReadyAt to stay fixed, got %v then %v", rec1.ReadyAt, rec2.ReadyAt)
	}
}

func TestRemove_ReleasesWaitersWithCancelled(t *testing.T) {
	r := New("orchestrator", nil)
	r.MarkActivating("s1", "developer")
	result := make(chan error, 1)
	go func() {
		result <- r.WaitActive(context.Background(), "s1", time.Now().Add(time.Second))
	}()
	time.Sleep(10 * time.Millisecond)
	r.Remove("s1")

	if err := <-result; err != ErrCancelled {
		t.Fatalf("expected ErrCancelled after remove, got %v", err)
	}
	if _, ok := r.Get("s1"); ok {
		t.Fatal("expected record to be gone after remove")
	}
}

func TestOrchestratorMirror_ReceivesTransitions(t *testing.T) {
	m := &recordingMirror{}
	r := New("orchestrator", m)
	r.MarkActivating("orchestrator", "orchestrator")
	r.MarkActive("orchestrator", "orchestrator", "")
	r.Remove("orchestrator")

	want := []Status{StatusActivating, StatusActive, StatusInactive}
	if len(m.logs) != len(want) {
		t.Fatalf("expected %d mirror calls, got %d: %v", len(want), len(m.logs), m.logs)
	}
	for i, s := range want {
		if m.logs[i] != s {
			t.Fatalf("mirror call %d: expected %s, got %s", i, s, m.logs[i])
		}
		if m.names[i] != "orchestrator" {
			t.Fatalf("mirror call %d: expected sessionName %q, got %q", i, "orchestrator", m.names[i])
		}
	}
}

func TestRegisterAgent_IgnoresNonActiveStatus(t *testing.T) {
	r := New("orchestrator", nil)
	r.RegisterAgent("s1", "developer", "", "activating")
	if _, ok := r.Get("s1"); ok {
		t.Fatal("expected no record to be created for a non-active status")
	}
	r.RegisterAgent("s1", "developer", "m1", "active")
	rec, ok := r.Get("s1")
	if !ok || rec.Status != StatusActive {
		t.Fatal("expected RegisterAgent(active) to mark the session active")
	}
}
