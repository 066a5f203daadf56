package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/initializer"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/state"
	"github.com/agentmux/agentmux/internal/term"
)

// runCheckOrchestrator implements step 1: if the orchestrator session
// already exists, step 2 (create_orchestrator) is skipped (spec.md
// §4.5 item 1's skipIfOrchestratorLive flag).
func (e *Engine) runCheckOrchestrator(ctx context.Context, exec *WorkflowExecution, project *config.ProjectRecord, team *config.TeamRecord) error {
	e.beginStep(exec, StepCheckOrchestrator)
	exists, err := e.Driver.SessionExists(e.OrchestratorSession)
	if err != nil {
		e.finishStep(exec, StepCheckOrchestrator, StatusFailed, "", err)
		return err
	}
	if exists {
		e.finishStep(exec, StepCheckOrchestrator, StatusSucceeded, "orchestrator already live", nil)
		e.finishStep(exec, StepCreateOrchestrator, StatusSkipped, "orchestrator already live", nil)
	} else {
		e.finishStep(exec, StepCheckOrchestrator, StatusSucceeded, "orchestrator not running", nil)
	}
	return nil
}

// runCreateOrchestrator implements step 2; a no-op when step 1 already
// marked it skipped.
func (e *Engine) runCreateOrchestrator(ctx context.Context, exec *WorkflowExecution, project *config.ProjectRecord, team *config.TeamRecord) error {
	if s := exec.step(StepCreateOrchestrator); s.Status == StatusSkipped {
		return nil
	}
	e.beginStep(exec, StepCreateOrchestrator)
	if err := e.Driver.CreateSession(e.OrchestratorSession, project.Path, "orchestrator"); err != nil {
		e.finishStep(exec, StepCreateOrchestrator, StatusFailed, "", err)
		return err
	}
	e.finishStep(exec, StepCreateOrchestrator, StatusSucceeded, "", nil)
	return nil
}

// runInitializeClaude implements step 3: bring the orchestrator's CLI
// up via the Agent Initializer, overall deadline 45s.
func (e *Engine) runInitializeClaude(ctx context.Context, exec *WorkflowExecution, project *config.ProjectRecord, team *config.TeamRecord) error {
	e.beginStep(exec, StepInitializeClaude)
	desc := initializer.AgentDescriptor{
		ID:               e.OrchestratorSession,
		SessionName:      e.OrchestratorSession,
		Role:             initializer.RoleOrchestrator,
		SystemPromptPath: e.OrchestratorPrompt,
		ProjectPath:      project.Path,
	}
	opts := initializer.Options{
		PreserveOrchestrator: true,
		Deadline:             e.clock.Now().Add(e.initializeClaudeBudget()),
	}
	if fail := e.Initializer.Initialize(ctx, desc, opts); fail != nil {
		e.finishStep(exec, StepInitializeClaude, StatusFailed, "", fail)
		return fail
	}
	e.finishStep(exec, StepInitializeClaude, StatusSucceeded, "", nil)
	return nil
}

// runCreateTeamSessions implements step 4: create and initialize every
// team member's session concurrently. Each goroutine writes to its own
// result slot — no shared writes — mirroring the teacher's own
// parallel-start phase. The step succeeds iff every member succeeds;
// partial failures mark the step failed without rolling back the
// members that did come up (spec.md §4.5 item 4).
func (e *Engine) runCreateTeamSessions(ctx context.Context, exec *WorkflowExecution, project *config.ProjectRecord, team *config.TeamRecord) error {
	e.beginStep(exec, StepCreateTeamSessions)

	type memberResult struct {
		member config.MemberRecord
		err    error
	}
	results := make([]memberResult, len(team.Members))
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i, m := range team.Members {
			wg.Add(1)
			go func(idx int, member config.MemberRecord) {
				defer wg.Done()
				results[idx] = memberResult{member: member, err: e.bringUpMember(ctx, project, team, member)}
			}(i, m)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		<-done // let in-flight initializations finish per the cooperative-cancellation contract
	}

	var failedNames []string
	for _, r := range results {
		if r.err != nil {
			failedNames = append(failedNames, r.member.Name)
		}
	}
	if len(failedNames) > 0 {
		err := fmt.Errorf("team members failed to initialize: %s", strings.Join(failedNames, ", "))
		e.finishStep(exec, StepCreateTeamSessions, StatusFailed, err.Error(), err)
		return err
	}
	e.finishStep(exec, StepCreateTeamSessions, StatusSucceeded, "", nil)
	return nil
}

func (e *Engine) bringUpMember(ctx context.Context, project *config.ProjectRecord, team *config.TeamRecord, member config.MemberRecord) error {
	sessionName := SessionNameForMember(project.ID, member)

	exists, err := e.Driver.SessionExists(sessionName)
	if err != nil {
		return err
	}
	if !exists {
		if err := e.Driver.CreateSession(sessionName, project.Path, member.Name); err != nil && !term.IsAlreadyExists(err) {
			return err
		}
	}

	desc := initializer.AgentDescriptor{
		ID:               member.ID,
		SessionName:      sessionName,
		Role:             member.Role,
		SystemPromptPath: promptPathForRole(member.Role),
		ProjectPath:      project.Path,
		MemberID:         member.ID,
	}
	opts := initializer.Options{Deadline: e.clock.Now().Add(e.perMemberBudget())}
	if fail := e.Initializer.Initialize(ctx, desc, opts); fail != nil {
		e.mirrorMember(team.ID, member, sessionName, registry.StatusActivating)
		return fail
	}
	e.mirrorMember(team.ID, member, sessionName, registry.StatusActive)
	return nil
}

// promptPathForRole maps a team member's role to its prompt template
// path, one file per role under a relative prompts/ directory.
func promptPathForRole(role string) string {
	return "prompts/" + role + ".md"
}

func (e *Engine) mirrorMember(teamID string, member config.MemberRecord, sessionName string, status registry.Status) {
	if e.State == nil {
		return
	}
	rec, ok := e.Registry.Get(sessionName)
	if !ok {
		return
	}
	_ = e.State.UpsertMember(teamID, state.Member{
		ID:            member.ID,
		SessionName:   sessionName,
		Role:          member.Role,
		AgentStatus:   status,
		WorkingStatus: "idle",
		ReadyAt:       rec.ReadyAt,
	})
}

// runSendProjectPrompt implements step 5: compose and deliver the
// project-start prompt to the orchestrator session.
func (e *Engine) runSendProjectPrompt(ctx context.Context, exec *WorkflowExecution, project *config.ProjectRecord, team *config.TeamRecord) error {
	e.beginStep(exec, StepSendProjectPrompt)
	prompt := ComposeProjectStartPrompt(project, team)
	if err := e.Driver.SendKeys(e.OrchestratorSession, []string{prompt, term.Enter}); err != nil {
		e.finishStep(exec, StepSendProjectPrompt, StatusFailed, "", err)
		return err
	}
	e.finishStep(exec, StepSendProjectPrompt, StatusSucceeded, "", nil)
	return nil
}

// runMonitorSetup implements step 6: poll the Registry every 2s until
// the orchestrator and every team member are active, or a 2 minute
// deadline expires.
func (e *Engine) runMonitorSetup(ctx context.Context, exec *WorkflowExecution, project *config.ProjectRecord, team *config.TeamRecord) error {
	e.beginStep(exec, StepMonitorSetup)
	deadline := e.clock.Now().Add(e.monitorSetupDeadline())

	for {
		if e.allActive(project, team) {
			e.finishStep(exec, StepMonitorSetup, StatusSucceeded, "", nil)
			return nil
		}
		if !e.clock.Now().Before(deadline) {
			err := fmt.Errorf("monitor_setup: deadline exceeded waiting for all sessions to become active")
			e.finishStep(exec, StepMonitorSetup, StatusFailed, err.Error(), err)
			return err
		}
		if cancelled(ctx) {
			err := fmt.Errorf("monitor_setup: cancelled")
			e.finishStep(exec, StepMonitorSetup, StatusFailed, "", err)
			return err
		}
		e.clock.Sleep(e.monitorPollInterval())
	}
}

func (e *Engine) allActive(project *config.ProjectRecord, team *config.TeamRecord) bool {
	if rec, ok := e.Registry.Get(e.OrchestratorSession); !ok || rec.Status != registry.StatusActive {
		return false
	}
	for _, m := range team.Members {
		sessionName := SessionNameForMember(project.ID, m)
		rec, ok := e.Registry.Get(sessionName)
		if !ok || rec.Status != registry.StatusActive {
			return false
		}
	}
	return true
}
