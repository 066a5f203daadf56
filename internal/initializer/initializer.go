// Package initializer implements the Agent Initializer (C3): it brings
// one session from "shell or unknown" to "AI CLI interactive and
// system-prompted" via a four-level escalation ladder (spec.md §4.3).
package initializer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentmux/agentmux/internal/prompt"
	"github.com/agentmux/agentmux/internal/readiness"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/telemetry"
	"github.com/agentmux/agentmux/internal/term"
)

// Role values for AgentDescriptor.Role.
const (
	RoleOrchestrator = "orchestrator"
	RoleDeveloper    = "developer"
	RoleQA           = "qa"
	RoleTPM          = "tpm"
	RoleDesigner     = "designer"
	RoleOther        = "other"
)

// AgentDescriptor identifies the agent an Initialize call brings up
// (spec.md §3 AgentDescriptor).
type AgentDescriptor struct {
	ID               string
	SessionName      string
	Role             string
	SystemPromptPath string
	ProjectPath      string
	MemberID         string
}

// Level is a rung of the escalation ladder.
type Level int

const (
	L1 Level = iota + 1
	L2
	L3
	L4
)

func (l Level) String() string {
	switch l {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	case L4:
		return "L4"
	default:
		return "unknown"
	}
}

// Reason is why the escalation ladder stopped at LevelReached.
type Reason string

const (
	ReasonTimedOut    Reason = "TimedOut"
	ReasonDriverError Reason = "DriverError"
	ReasonNotFound    Reason = "NotFound"
	ReasonBusy        Reason = "Busy"
	ReasonCancelled   Reason = "Cancelled"
)

// Failure is the terminal, non-nil result of Initialize. LevelReached
// is the last level attempted; for ReasonBusy no level was attempted.
type Failure struct {
	LevelReached Level
	Reason       Reason
	Err          error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Reason) + " at " + f.LevelReached.String() + ": " + f.Err.Error()
	}
	return string(f.Reason) + " at " + f.LevelReached.String()
}

// Options carries the per-call parameters Initialize needs beyond the
// descriptor itself.
type Options struct {
	// PreserveOrchestrator, when true and desc.Role == RoleOrchestrator,
	// skips L3 (session recreation) and goes directly to L4 (spec.md
	// §4.3 edge case).
	PreserveOrchestrator bool
	// Deadline is the overall deadline across all levels. Zero means
	// "now + DefaultOverallBudget".
	Deadline time.Time
}

// Default per-level and overall budgets (spec.md §4.3 table).
const (
	DefaultOverallBudget = 90 * time.Second
	DefaultL1Budget      = 10 * time.Second
	DefaultL2Budget      = 20 * time.Second
	DefaultL3Budget      = 30 * time.Second

	// DefaultLaunchCommand relaunches the AI CLI with the flag that
	// skips its interactive permission-bypass confirmation, matching
	// the teacher's EmitsPermissionWarning / dangerous-skip-permissions
	// launch convention (internal/session/dialog.go).
	DefaultLaunchCommand = "claude --dangerously-skip-permissions"

	pollInterval = 500 * time.Millisecond
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Initializer runs the escalation ladder against a term.Driver, using a
// readiness.Detector to probe for interactivity and a registry.Registry
// to learn when the agent has accepted its prompt.
type Initializer struct {
	Driver   term.Driver
	Detector *readiness.Detector
	Registry *registry.Registry
	Prompts  *prompt.Store

	OverallBudget time.Duration
	L1Budget      time.Duration
	L2Budget      time.Duration
	L3Budget      time.Duration
	LaunchCommand string

	clock Clock

	mu   sync.Mutex
	busy map[string]bool
}

// New builds an Initializer with spec-default budgets.
func New(driver term.Driver, detector *readiness.Detector, reg *registry.Registry, prompts *prompt.Store) *Initializer {
	return &Initializer{
		Driver:        driver,
		Detector:      detector,
		Registry:      reg,
		Prompts:       prompts,
		OverallBudget: DefaultOverallBudget,
		L1Budget:      DefaultL1Budget,
		L2Budget:      DefaultL2Budget,
		L3Budget:      DefaultL3Budget,
		LaunchCommand: DefaultLaunchCommand,
		clock:         realClock{},
		busy:          make(map[string]bool),
	}
}

// WithClock overrides the clock; used by tests to avoid real sleeps.
func (in *Initializer) WithClock(c Clock) *Initializer {
	in.clock = c
	return in
}

func (in *Initializer) tryLock(sessionName string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.busy[sessionName] {
		return false
	}
	in.busy[sessionName] = true
	return true
}

func (in *Initializer) unlock(sessionName string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.busy, sessionName)
}

// Initialize runs the escalation ladder for desc. Returns nil on
// success (Registry shows the session active); otherwise a *Failure.
//
// Concurrent Initialize calls for the same session name are forbidden:
// the second caller gets ReasonBusy immediately (spec.md §4.3).
func (in *Initializer) Initialize(ctx context.Context, desc AgentDescriptor, opts Options) *Failure {
	if !in.tryLock(desc.SessionName) {
		return &Failure{Reason: ReasonBusy}
	}
	defer in.unlock(desc.SessionName)

	overallDeadline := opts.Deadline
	if overallDeadline.IsZero() {
		overallDeadline = in.clock.Now().Add(in.overallBudget())
	}

	type rung struct {
		level  Level
		budget time.Duration
		run    func(ctx context.Context, desc AgentDescriptor, deadline time.Time) error
	}
	rungs := []rung{
		{L1, in.budget(in.L1Budget, DefaultL1Budget), in.runL1},
		{L2, in.budget(in.L2Budget, DefaultL2Budget), in.runL2},
		{L3, in.budget(in.L3Budget, DefaultL3Budget), in.runL3},
	}

	var lastLevel Level = L1
	var lastReason Reason = ReasonTimedOut

	for _, rg := range rungs {
		if rg.level == L3 && desc.Role == RoleOrchestrator && opts.PreserveOrchestrator {
			break // go straight to L4, keeping the orchestrator session intact
		}

		select {
		case <-ctx.Done():
			in.restorePaneIdleness(desc.SessionName)
			return &Failure{LevelReached: rg.level, Reason: ReasonCancelled}
		default:
		}

		now := in.clock.Now()
		if !now.Before(overallDeadline) {
			return &Failure{LevelReached: rg.level, Reason: ReasonTimedOut}
		}
		levelDeadline := now.Add(rg.budget)
		if levelDeadline.After(overallDeadline) {
			levelDeadline = overallDeadline
		}

		if err := rg.run(ctx, desc, levelDeadline); err != nil {
			telemetry.RecordInitializerLevel(ctx, desc.SessionName, rg.level.String(), err)
			if term.IsNotFound(err) {
				return &Failure{LevelReached: rg.level, Reason: ReasonNotFound, Err: err}
			}
			return &Failure{LevelReached: rg.level, Reason: ReasonDriverError, Err: err}
		}

		waitErr := in.Registry.WaitActive(ctx, desc.SessionName, levelDeadline)
		telemetry.RecordInitializerLevel(ctx, desc.SessionName, rg.level.String(), waitErr)
		if waitErr == nil {
			return nil // success: P3 holds, Registry shows active
		}
		lastLevel = rg.level
		if errors.Is(waitErr, registry.ErrCancelled) {
			in.restorePaneIdleness(desc.SessionName)
			return &Failure{LevelReached: rg.level, Reason: ReasonCancelled}
		}
		lastReason = ReasonTimedOut
	}

	telemetry.RecordInitializerFailure(ctx, desc.SessionName, string(lastReason))
	return &Failure{LevelReached: lastLevel, Reason: lastReason}
}

func (in *Initializer) overallBudget() time.Duration {
	if in.OverallBudget <= 0 {
		return DefaultOverallBudget
	}
	return in.OverallBudget
}

func (in *Initializer) budget(configured, def time.Duration) time.Duration {
	if configured <= 0 {
		return def
	}
	return configured
}

func (in *Initializer) launchCommand() string {
	if in.LaunchCommand == "" {
		return DefaultLaunchCommand
	}
	return in.LaunchCommand
}

// restorePaneIdleness sends a final Escape so a cancelled mid-escalation
// session is left idle rather than stuck with an open dialog/palette
// (spec.md §5 cancellation guarantee). Best-effort: errors are ignored,
// there is nowhere left to report them.
func (in *Initializer) restorePaneIdleness(sessionName string) {
	_ = in.Driver.SendKeys(sessionName, []string{term.Escape})
}

// runL1 probes for an already-interactive CLI and, if found, sends the
// prompt. If the CLI is not interactive, runL1 does nothing further —
// the subsequent Registry wait simply times out, escalating to L2.
func (in *Initializer) runL1(ctx context.Context, desc AgentDescriptor, _ time.Time) error {
	if !in.Detector.IsCliInteractive(desc.SessionName) {
		return nil
	}
	return in.sendPrompt(desc)
}

// runL2 interrupts whatever is running, relaunches the CLI, and sends
// the prompt once interactive.
func (in *Initializer) runL2(ctx context.Context, desc AgentDescriptor, deadline time.Time) error {
	if err := in.Driver.SendKeys(desc.SessionName, []string{term.CtrlC}); err != nil {
		return err
	}
	if err := in.Driver.SendKeys(desc.SessionName, []string{term.CtrlC}); err != nil {
		return err
	}
	if err := in.Driver.SendKeys(desc.SessionName, []string{term.Enter}); err != nil {
		return err
	}
	in.Detector.Invalidate(desc.SessionName)
	in.clock.Sleep(1 * time.Second)

	if err := in.Driver.SendKeys(desc.SessionName, []string{in.launchCommand(), term.Enter}); err != nil {
		return err
	}
	in.Detector.Invalidate(desc.SessionName)

	if !in.waitForInteractive(ctx, desc.SessionName, deadline) {
		return nil // ran out of budget; Registry wait below will time out too
	}
	return in.sendPrompt(desc)
}

// runL3 kills and recreates the session from scratch, then relaunches
// and prompts. Per spec.md §9, killing the orchestrator's session must
// invalidate its mirrored state before recreation; Registry.Remove
// performs that mirror write when sessionName is the orchestrator slot.
func (in *Initializer) runL3(ctx context.Context, desc AgentDescriptor, deadline time.Time) error {
	in.Registry.Remove(desc.SessionName)
	if err := in.Driver.KillSession(desc.SessionName); err != nil && !term.IsNotFound(err) {
		return err
	}
	in.Detector.Invalidate(desc.SessionName)

	if err := in.Driver.CreateSession(desc.SessionName, desc.ProjectPath, ""); err != nil {
		return err
	}
	in.Detector.Invalidate(desc.SessionName)

	if err := in.Driver.SendKeys(desc.SessionName, []string{in.launchCommand(), term.Enter}); err != nil {
		return err
	}
	in.Detector.Invalidate(desc.SessionName)

	if !in.waitForInteractive(ctx, desc.SessionName, deadline) {
		return nil
	}
	return in.sendPrompt(desc)
}

// waitForInteractive polls the Detector until it reports interactive,
// ctx is done, or deadline passes. Returns false (not an error) on
// giving up, since a non-interactive CLI is a normal escalation
// outcome, not a driver failure.
func (in *Initializer) waitForInteractive(ctx context.Context, sessionName string, deadline time.Time) bool {
	for {
		if in.Detector.IsCliInteractive(sessionName) {
			return true
		}
		if !in.clock.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		in.clock.Sleep(pollInterval)
	}
}

// sendPrompt implements spec.md §4.3's "contract of send the prompt":
// render the role's template, write it as one payload + Enter, mark the
// session activating, and invalidate the Detector cache (a state-
// changing action).
func (in *Initializer) sendPrompt(desc AgentDescriptor) error {
	text, err := in.Prompts.Render(desc.SystemPromptPath, desc.SessionName, desc.MemberID)
	if err != nil {
		return err
	}
	if err := in.Driver.SendKeys(desc.SessionName, []string{text, term.Enter}); err != nil {
		return err
	}
	in.Detector.Invalidate(desc.SessionName)
	in.Registry.MarkActivating(desc.SessionName, desc.Role)
	return nil
}
