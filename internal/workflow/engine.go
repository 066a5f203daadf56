package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/eventbus"
	"github.com/agentmux/agentmux/internal/initializer"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/state"
	"github.com/agentmux/agentmux/internal/telemetry"
	"github.com/agentmux/agentmux/internal/term"
)

// Default step deadlines (spec.md §4.5).
const (
	DefaultInitializeClaudeBudget = 45 * time.Second
	DefaultPerMemberBudget        = 60 * time.Second
	DefaultMonitorSetupDeadline   = 2 * time.Minute
	DefaultMonitorPollInterval    = 2 * time.Second
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Engine runs Project-Start Workflow Executions (C5). One Engine is
// shared across every project-start call; the per-session mutual
// exclusion that keeps two concurrent starts of the same session safe
// lives one layer down, in the Initializer.
type Engine struct {
	Driver              term.Driver
	Initializer         *initializer.Initializer
	Registry            *registry.Registry
	Events              *eventbus.Bus
	State               *state.Store // optional; nil disables team-member mirroring
	History             Recorder     // optional; nil disables execution audit logging
	OrchestratorSession string
	OrchestratorPrompt  string // systemPromptPath for the orchestrator role

	InitializeClaudeBudget time.Duration
	PerMemberBudget        time.Duration
	MonitorSetupDeadline   time.Duration
	MonitorPollInterval    time.Duration

	clock Clock

	mu         sync.Mutex
	executions map[string]*WorkflowExecution
	cancels    map[string]context.CancelFunc
}

// New builds an Engine. orchestratorSession is the fixed session name
// the Registry and State Store treat as the well-known orchestrator
// slot; orchestratorPrompt is the systemPromptPath rendered for it.
func New(driver term.Driver, in *initializer.Initializer, reg *registry.Registry, bus *eventbus.Bus, st *state.Store, orchestratorSession, orchestratorPrompt string) *Engine {
	return &Engine{
		Driver:                 driver,
		Initializer:            in,
		Registry:               reg,
		Events:                 bus,
		State:                  st,
		OrchestratorSession:    orchestratorSession,
		OrchestratorPrompt:     orchestratorPrompt,
		InitializeClaudeBudget: DefaultInitializeClaudeBudget,
		PerMemberBudget:        DefaultPerMemberBudget,
		MonitorSetupDeadline:   DefaultMonitorSetupDeadline,
		MonitorPollInterval:    DefaultMonitorPollInterval,
		clock:                  realClock{},
		executions:             make(map[string]*WorkflowExecution),
		cancels:                make(map[string]context.CancelFunc),
	}
}

func (e *Engine) initializeClaudeBudget() time.Duration {
	if e.InitializeClaudeBudget <= 0 {
		return DefaultInitializeClaudeBudget
	}
	return e.InitializeClaudeBudget
}

func (e *Engine) perMemberBudget() time.Duration {
	if e.PerMemberBudget <= 0 {
		return DefaultPerMemberBudget
	}
	return e.PerMemberBudget
}

func (e *Engine) monitorSetupDeadline() time.Duration {
	if e.MonitorSetupDeadline <= 0 {
		return DefaultMonitorSetupDeadline
	}
	return e.MonitorSetupDeadline
}

func (e *Engine) monitorPollInterval() time.Duration {
	if e.MonitorPollInterval <= 0 {
		return DefaultMonitorPollInterval
	}
	return e.MonitorPollInterval
}

// WithClock overrides the clock; used by tests to avoid real sleeps.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// WithHistory attaches the optional History Store. Unset, executions
// are simply never audited.
func (e *Engine) WithHistory(r Recorder) *Engine {
	e.History = r
	return e
}

// SessionNameForMember derives the tmux session name for a team
// member: unique per project+member so two projects never collide on
// the same session name.
func SessionNameForMember(projectID string, member config.MemberRecord) string {
	return fmt.Sprintf("agentmux-%s-%s", projectID, member.ID)
}

// Get returns a snapshot of executionID's current state.
func (e *Engine) Get(executionID string) (*WorkflowExecution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return nil, false
	}
	cp := *exec
	cp.Steps = append([]WorkflowStep(nil), exec.Steps...)
	return &cp, true
}

// Cancel transitions executionID to cancelled at the next step
// boundary. Returns false if the execution is unknown or already
// terminal.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	cancel, hasCancel := e.cancels[executionID]
	e.mu.Unlock()
	if !ok || terminal(exec.Status) {
		return false
	}
	if hasCancel {
		cancel()
	}
	return true
}

// Start begins a new WorkflowExecution for project/team and runs it to
// completion in a background goroutine. It returns immediately with
// the execution's id; callers poll Get or subscribe to Events.
func (e *Engine) Start(ctx context.Context, project *config.ProjectRecord, team *config.TeamRecord) string {
	executionID := uuid.NewString()
	exec := newExecution(executionID, project.ID, team.ID, e.clock.Now())

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.executions[executionID] = exec
	e.cancels[executionID] = cancel
	e.mu.Unlock()

	go e.run(runCtx, exec, project, team)
	return executionID
}

func (e *Engine) run(ctx context.Context, exec *WorkflowExecution, project *config.ProjectRecord, team *config.TeamRecord) {
	e.setExecutionStatus(exec, StatusRunning)

	steps := []func(context.Context, *WorkflowExecution, *config.ProjectRecord, *config.TeamRecord) error{
		e.runCheckOrchestrator,
		e.runCreateOrchestrator,
		e.runInitializeClaude,
		e.runCreateTeamSessions,
		e.runSendProjectPrompt,
		e.runMonitorSetup,
	}

	var failErr error
	for _, step := range steps {
		select {
		case <-ctx.Done():
			e.setExecutionStatus(exec, StatusCancelled)
			e.recordHistory(exec)
			return
		default:
		}
		if err := step(ctx, exec, project, team); err != nil {
			failErr = err
			break
		}
	}

	select {
	case <-ctx.Done():
		e.setExecutionStatus(exec, StatusCancelled)
		e.recordHistory(exec)
		return
	default:
	}

	if failErr != nil {
		e.setExecutionStatus(exec, StatusFailed)
		telemetry.RecordWorkflowFailure(context.Background(), exec.ExecutionID, failErr.Error())
		e.recordHistory(exec)
		return
	}
	e.setExecutionStatus(exec, StatusSucceeded)
	e.recordHistory(exec)
}

func (e *Engine) setExecutionStatus(exec *WorkflowExecution, status Status) {
	e.mu.Lock()
	exec.Status = status
	if terminal(status) {
		now := e.clock.Now()
		exec.FinishedAt = &now
	}
	e.mu.Unlock()
	e.publish(eventbus.Event{ExecutionID: exec.ExecutionID, Kind: eventbus.KindExecution, Status: string(status)})
}

func (e *Engine) beginStep(exec *WorkflowExecution, stepID string) {
	e.mu.Lock()
	s := exec.step(stepID)
	now := e.clock.Now()
	s.Status = StatusRunning
	s.StartedAt = &now
	e.mu.Unlock()
	e.publish(eventbus.Event{ExecutionID: exec.ExecutionID, StepID: stepID, Kind: eventbus.KindStep, Status: string(StatusRunning)})
}

func (e *Engine) finishStep(exec *WorkflowExecution, stepID string, status Status, detail string, err error) {
	e.mu.Lock()
	s := exec.step(stepID)
	now := e.clock.Now()
	s.Status = status
	s.FinishedAt = &now
	s.Detail = detail
	if err != nil {
		s.Error = err.Error()
	}
	e.mu.Unlock()
	ev := eventbus.Event{ExecutionID: exec.ExecutionID, StepID: stepID, Kind: eventbus.KindStep, Status: string(status), Detail: detail}
	e.publish(ev)
	telemetry.RecordWorkflowStep(context.Background(), exec.ExecutionID, stepID, string(status), err)
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.Events == nil {
		return
	}
	e.Events.Publish(ev)
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
