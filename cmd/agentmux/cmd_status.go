package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/fsys"
	"github.com/agentmux/agentmux/internal/state"
)

func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the workspace's persisted orchestrator/team status",
		Long: `Reads the state document (.agentmux/state.json) and prints the
orchestrator's status and every team member's agent/working status.
This reflects the last write the Workflow Engine made — it does not
probe live sessions (use "agentmux doctor" for that).`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cmdStatus(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// cmdStatus is the CLI entry point for status. Returns the exit code.
func cmdStatus(stdout, stderr io.Writer) int {
	workspace, err := resolveWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "agentmux status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	store := state.New(stateDocPath(workspace), fsys.OSFS{})
	doc, err := store.Load()
	if err != nil {
		fmt.Fprintf(stderr, "agentmux status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	printStatus(stdout, doc)
	return 0
}

func printStatus(stdout io.Writer, doc *state.Document) {
	if doc.Orchestrator.SessionID == "" {
		fmt.Fprintln(stdout, "orchestrator: never started") //nolint:errcheck // best-effort stdout
	} else {
		fmt.Fprintf(stdout, "orchestrator: %s (%s)\n", doc.Orchestrator.SessionID, doc.Orchestrator.Status) //nolint:errcheck // best-effort stdout
	}

	if len(doc.Teams) == 0 {
		fmt.Fprintln(stdout, "no teams recorded") //nolint:errcheck // best-effort stdout
		return
	}
	for _, team := range doc.Teams {
		fmt.Fprintf(stdout, "team %s:\n", team.ID) //nolint:errcheck // best-effort stdout
		for _, m := range team.Members {
			fmt.Fprintf(stdout, "  %s (%s) — %s, working=%s\n", m.ID, m.Role, m.AgentStatus, m.WorkingStatus) //nolint:errcheck // best-effort stdout
		}
	}
}
