package workflow

import (
	"context"
	"time"

	"github.com/agentmux/agentmux/internal/history"
)

// Recorder is implemented by the optional History Store (G5). A nil
// Recorder on the Engine disables execution audit logging entirely;
// the canonical state document is unaffected either way.
type Recorder interface {
	Record(ctx context.Context, entry history.ExecutionHistoryEntry) error
}

// recordHistory writes a best-effort audit entry for a just-finished
// execution. It runs detached from the execution's own (possibly
// already-cancelled) context, with its own short deadline, and never
// propagates failures — a slow or unreachable History Store must never
// hold up or fail a project start.
func (e *Engine) recordHistory(exec *WorkflowExecution) {
	if e.History == nil {
		return
	}
	entry := history.ExecutionHistoryEntry{
		ExecutionID: exec.ExecutionID,
		ProjectID:   exec.ProjectID,
		TeamID:      exec.TeamID,
		Status:      string(exec.Status),
		StartedAt:   exec.StartedAt,
		FinishedAt:  exec.FinishedAt,
	}
	for _, s := range exec.Steps {
		entry.StepSummaries = append(entry.StepSummaries, history.StepSummary{
			StepID: s.ID,
			Status: string(s.Status),
			Detail: s.Error,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.History.Record(ctx, entry) // best-effort; audit log failures never surface
	}()
}
