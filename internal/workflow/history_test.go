package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/history"
	"github.com/agentmux/agentmux/internal/term/fake"
)

type fakeRecorder struct {
	mu      sync.Mutex
	entries []history.ExecutionHistoryEntry
}

func (f *fakeRecorder) Record(_ context.Context, entry history.ExecutionHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeRecorder) snapshot() []history.ExecutionHistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]history.ExecutionHistoryEntry(nil), f.entries...)
}

func TestEngine_RecordsHistoryOnCompletion(t *testing.T) {
	driver := fake.New()
	e, reg, _ := newTestEngine(t, driver)
	rec := &fakeRecorder{}
	e.WithHistory(rec)

	project, team := testProjectTeam()
	team.Members = nil
	stop := autoActivate(reg, "orchestrator", orchestratorSession)
	defer stop()

	executionID := e.Start(context.Background(), project, team)
	waitTerminal(t, e, executionID, 5*time.Second)

	deadline := time.Now().Add(time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	entries := rec.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one history entry, got %d", len(entries))
	}
	if entries[0].ExecutionID != executionID {
		t.Fatalf("expected entry for %s, got %s", executionID, entries[0].ExecutionID)
	}
	if entries[0].Status != string(StatusSucceeded) {
		t.Fatalf("expected succeeded, got %s", entries[0].Status)
	}
	if len(entries[0].StepSummaries) != 6 {
		t.Fatalf("expected 6 step summaries, got %d", len(entries[0].StepSummaries))
	}
}

func TestEngine_NilHistory_NoPanic(t *testing.T) {
	driver := fake.New()
	e, reg, _ := newTestEngine(t, driver)
	project, team := testProjectTeam()
	team.Members = nil
	stop := autoActivate(reg, "orchestrator", orchestratorSession)
	defer stop()

	executionID := e.Start(context.Background(), project, team)
	waitTerminal(t, e, executionID, 5*time.Second)
}
