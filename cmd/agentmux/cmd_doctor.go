package main

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/doctor"
	"github.com/agentmux/agentmux/internal/fsys"
	"github.com/agentmux/agentmux/internal/state"
	"github.com/agentmux/agentmux/internal/term/tmux"
	"github.com/agentmux/agentmux/internal/workflow"
)

func newDoctorCmd(stdout, stderr io.Writer) *cobra.Command {
	var verbose bool
	var projectID, teamID string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check workspace health",
		Long: `Runs diagnostic health checks: required binaries on PATH (tmux,
git), state document readability, and — when --project/--team are
given — config validity and live session status for the orchestrator
and every team member.`,
		Example: `  agentmux doctor
  agentmux doctor --project widget --team alpha --verbose`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doDoctor(projectID, teamID, verbose, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id (enables config/session checks)")
	cmd.Flags().StringVar(&teamID, "team", "", "team id (enables config/session checks)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show extra diagnostic details")
	return cmd
}

// doDoctor runs all health checks and prints results. Returns the exit
// code: 0 unless a check reported StatusError.
func doDoctor(projectID, teamID string, verbose bool, stdout, stderr io.Writer) int {
	workspace, err := resolveWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "agentmux doctor: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	osfs := fsys.OSFS{}
	d := &doctor.Doctor{}
	ctx := &doctor.CheckContext{ProjectPath: workspace, Verbose: verbose}

	d.Register(doctor.NewBinaryCheck("tmux", "", exec.LookPath))
	d.Register(doctor.NewBinaryCheck("git", "", exec.LookPath))
	d.Register(doctor.NewStateDocumentCheck(state.New(stateDocPath(workspace), osfs)))

	var team *config.TeamRecord
	if projectID != "" {
		d.Register(doctor.NewProjectConfigCheck(projectConfigPath(workspace, projectID), osfs))
	}
	if teamID != "" {
		d.Register(doctor.NewTeamConfigCheck(teamConfigPath(workspace, teamID), osfs))
		if t, err := config.LoadTeam(osfs, teamConfigPath(workspace, teamID)); err == nil {
			team = t
		}
	}
	if projectID != "" && team != nil {
		d.Register(doctor.NewSessionsCheck(tmux.New(), orchestratorSessionName, projectID, team.Members, workflow.SessionNameForMember))
	}

	report := d.Run(ctx, stdout, false)
	doctor.PrintSummary(stdout, report)
	if report.Failed > 0 {
		return 1
	}
	return 0
}
