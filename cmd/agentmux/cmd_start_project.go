package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/eventbus"
	"github.com/agentmux/agentmux/internal/eventbus/wsbridge"
	"github.com/agentmux/agentmux/internal/fsys"
	"github.com/agentmux/agentmux/internal/history"
	"github.com/agentmux/agentmux/internal/initializer"
	"github.com/agentmux/agentmux/internal/logging"
	"github.com/agentmux/agentmux/internal/prompt"
	"github.com/agentmux/agentmux/internal/readiness"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/state"
	"github.com/agentmux/agentmux/internal/telemetry"
	"github.com/agentmux/agentmux/internal/term"
	"github.com/agentmux/agentmux/internal/term/k8sdriver"
	"github.com/agentmux/agentmux/internal/term/tmux"
	"github.com/agentmux/agentmux/internal/workflow"
)

// EnvHistoryDSN, when set, activates the optional History Store (G5).
const EnvHistoryDSN = "AGENTMUX_HISTORY_DSN"

// EnvDriver selects the Terminal Driver backend. "k8s" selects the
// Remote Pod Driver (G6); anything else (including unset) uses the
// production tmux backend.
const EnvDriver = "AGENTMUX_DRIVER"

func newStartProjectCmd(stdout, stderr io.Writer) *cobra.Command {
	var projectID, teamID, wsAddr string
	var deadline time.Duration
	cmd := &cobra.Command{
		Use:   "start-project",
		Short: "Bring a project's orchestrator and team sessions up",
		Long: `Runs the Project-Start Workflow for a project/team pair:
checks for (or creates) the orchestrator session, brings its AI CLI
interactive, brings every team member session up in parallel, sends the
project-start prompt to the orchestrator, then waits for every team
member to register active.

Exits 0 iff the workflow reaches a terminal status of succeeded.`,
		Example: `  agentmux start-project --project widget --team alpha`,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdStartProject(projectID, teamID, wsAddr, deadline, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&teamID, "team", "", "team id (required)")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "",
		"if set, serve live execution/step events as WebSocket JSON on this address (e.g. :8089) for the external UI layer")
	cmd.Flags().DurationVar(&deadline, "deadline", 0,
		"maximum time to wait for the workflow to finish (default: wait forever)")
	cmd.MarkFlagRequired("project") //nolint:errcheck // cobra reports this itself on Execute
	cmd.MarkFlagRequired("team")    //nolint:errcheck // cobra reports this itself on Execute
	return cmd
}

// cmdStartProject is the CLI entry point for start-project. Returns the
// process exit code.
func cmdStartProject(projectID, teamID, wsAddr string, deadline time.Duration, stdout, stderr io.Writer) int {
	log := logging.New(stderr)

	ctx := context.Background()
	if err := telemetry.Init(ctx); err != nil {
		log.Warnf("telemetry: %v (continuing without it)", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warnf("telemetry shutdown: %v", err)
		}
	}()

	workspace, err := resolveWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "agentmux start-project: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	osfs := fsys.OSFS{}
	project, err := config.LoadProject(osfs, projectConfigPath(workspace, projectID))
	if err != nil {
		fmt.Fprintf(stderr, "agentmux start-project: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	team, err := config.LoadTeam(osfs, teamConfigPath(workspace, teamID))
	if err != nil {
		fmt.Fprintf(stderr, "agentmux start-project: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	driver, err := newDriver()
	if err != nil {
		fmt.Fprintf(stderr, "agentmux start-project: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	detector := readiness.New(driver)
	store := state.New(stateDocPath(workspace), osfs)
	reg := registry.New(orchestratorSessionName, store)
	prompts := prompt.New(osfs)
	in := initializer.New(driver, detector, reg, prompts)
	bus := eventbus.New()

	engine := workflow.New(driver, in, reg, bus, store, orchestratorSessionName, orchestratorPromptPath())
	if dsn := os.Getenv(EnvHistoryDSN); dsn != "" {
		hist, err := history.Open(ctx, dsn)
		if err != nil {
			log.Warnf("history store: %v (continuing without audit logging)", err)
		} else {
			defer hist.Close() //nolint:errcheck // best-effort close on process exit
			engine.WithHistory(hist)
		}
	}

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go streamEvents(events, log)

	if wsAddr != "" {
		bridge := wsbridge.New(stdlog.New(stderr, "", 0))
		bridgeCtx, stopBridge := context.WithCancel(ctx)
		defer stopBridge()
		go bridge.Run(bridgeCtx, bus)
		srv := &http.Server{Addr: wsAddr, Handler: bridge}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnf("ws-addr: %v", err)
			}
		}()
		defer srv.Close() //nolint:errcheck // best-effort shutdown on process exit
		log.Infof("serving live events over websocket at %s", wsAddr)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	executionID := engine.Start(runCtx, project, team)
	log.Infof("started execution %s (project=%s team=%s)", executionID, project.ID, team.ID)

	exec := waitForTerminal(runCtx, engine, executionID)
	if exec == nil {
		fmt.Fprintf(stderr, "agentmux start-project: deadline exceeded waiting for execution %s\n", executionID) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "execution %s: %s\n", exec.ExecutionID, exec.Status) //nolint:errcheck // best-effort stdout
	if exec.Status != workflow.StatusSucceeded {
		return 1
	}
	return 0
}

// EnvK8sNamespace, EnvK8sImage, and EnvK8sContext configure the Remote
// Pod Driver (G6) when EnvDriver=k8s. Image must have tmux preinstalled.
const (
	EnvK8sNamespace = "AGENTMUX_K8S_NAMESPACE"
	EnvK8sImage     = "AGENTMUX_K8S_IMAGE"
	EnvK8sContext   = "AGENTMUX_K8S_CONTEXT"
)

// newDriver selects the Terminal Driver backend per EnvDriver, the same
// way the teacher selects its session provider: an environment variable
// read once at process startup, never mid-run.
func newDriver() (term.Driver, error) {
	if os.Getenv(EnvDriver) != "k8s" {
		return tmux.New(), nil
	}

	namespace := os.Getenv(EnvK8sNamespace)
	if namespace == "" {
		namespace = "default"
	}
	image := os.Getenv(EnvK8sImage)
	if image == "" {
		return nil, fmt.Errorf("%s=k8s requires %s to be set", EnvDriver, EnvK8sImage)
	}
	return k8sdriver.New(namespace, image, os.Getenv(EnvK8sContext))
}

// waitForTerminal polls engine.Get until executionID reaches a terminal
// status or ctx is done. Returns nil on context expiry.
func waitForTerminal(ctx context.Context, engine *workflow.Engine, executionID string) *workflow.WorkflowExecution {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if exec, ok := engine.Get(executionID); ok && execTerminal(exec) {
			return exec
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func execTerminal(exec *workflow.WorkflowExecution) bool {
	switch exec.Status {
	case workflow.StatusSucceeded, workflow.StatusFailed, workflow.StatusCancelled:
		return true
	default:
		return false
	}
}

// streamEvents logs every event published on events until the channel
// is closed (Unsubscribe). Gives an operator tailing stderr visibility
// into step-by-step progress without polling.
func streamEvents(events <-chan eventbus.Event, log *logging.Logger) {
	for ev := range events {
		if ev.StepID != "" {
			log.Infof("[%s] step %s: %s", ev.ExecutionID, ev.StepID, ev.Status)
			continue
		}
		log.Infof("[%s] execution: %s", ev.ExecutionID, ev.Status)
	}
}
