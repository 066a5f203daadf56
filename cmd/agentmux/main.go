// agentmux is the Agent Session Orchestrator CLI: it starts a
// project's orchestrator and team sessions and reports on their health.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel error returned by cobra RunE functions to
// signal non-zero exit. The command has already written its own error
// to stderr.
var errExit = errors.New("exit")

// workspaceFlag holds the value of the --workspace persistent flag.
// Empty means "use the current directory."
var workspaceFlag string

// run executes the agentmux CLI with the given args, writing output to
// stdout and errors to stderr. Returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// newRootCmd creates the root cobra command with all subcommands.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentmux",
		Short:         "agentmux — orchestrates multi-agent project teams",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "agentmux: unknown command %q\n", args[0]) //nolint:errcheck // best-effort stderr
			return errExit
		},
	}
	root.PersistentFlags().StringVar(&workspaceFlag, "workspace", "",
		"path to the workspace directory (default: current directory)")
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newStartProjectCmd(stdout, stderr),
		newStatusCmd(stdout, stderr),
		newDoctorCmd(stdout, stderr),
		newVersionCmd(stdout),
	)
	root.AddCommand(newGenDocCmd(stdout, stderr, root))
	return root
}

// resolveWorkspace returns the absolute workspace root: --workspace if
// given, otherwise the current directory. Config and state paths used
// by the CLI are resolved relative to this root. Prompt template paths
// (orchestratorPromptPath and workflow.promptPathForRole's
// "prompts/<role>.md") are not: they stay relative and are opened
// against the process's current directory.
func resolveWorkspace() (string, error) {
	if workspaceFlag != "" {
		return filepath.Abs(workspaceFlag)
	}
	return os.Getwd()
}

// projectConfigPath returns the conventional path for a project's
// config file: "<workspace>/projects/<id>.toml".
func projectConfigPath(workspace, projectID string) string {
	return filepath.Join(workspace, "projects", projectID+".toml")
}

// teamConfigPath returns the conventional path for a team's config
// file: "<workspace>/teams/<id>.toml".
func teamConfigPath(workspace, teamID string) string {
	return filepath.Join(workspace, "teams", teamID+".toml")
}

// stateDocPath returns the conventional path for the persisted state
// document: "<workspace>/.agentmux/state.json".
func stateDocPath(workspace string) string {
	return filepath.Join(workspace, ".agentmux", "state.json")
}

// orchestratorSessionName is the well-known session name every
// workspace's orchestrator runs under (spec.md §6: one orchestrator per
// workspace, always the same slot in the Registry/State Store).
const orchestratorSessionName = "agentmux-orchestrator"

// orchestratorPromptPath is the conventional prompt template path for
// the orchestrator role, following the same "prompts/<role>.md"
// file-per-role convention steps.go uses for team members.
func orchestratorPromptPath() string {
	return "prompts/orchestrator.md"
}
