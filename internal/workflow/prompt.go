package workflow

import (
	"fmt"
	"strings"

	"github.com/agentmux/agentmux/internal/config"
)

// ComposeProjectStartPrompt builds the project-start prompt sent to
// the orchestrator as a single keystroke payload (spec.md §6). Section
// order is fixed so external tests can grep for section headers:
// heading, path, team name, member roster, requirements.
func ComposeProjectStartPrompt(project *config.ProjectRecord, team *config.TeamRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Project: %s\n\n", project.Name)
	fmt.Fprintf(&b, "Path: %s\n\n", project.Path)
	fmt.Fprintf(&b, "Team: %s\n\n", team.Name)

	b.WriteString("Members:\n")
	for _, m := range team.Members {
		fmt.Fprintf(&b, "- %s (%s)", m.Name, m.Role)
		if len(m.Skills) > 0 {
			fmt.Fprintf(&b, " — skills: %s", strings.Join(m.Skills, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("Requirements:\n")
	b.WriteString(project.Requirements)
	b.WriteString("\n")

	return b.String()
}
