// Package config reads project.toml and team.toml, the on-disk
// descriptions of a project and the team assigned to run it.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/agentmux/agentmux/internal/fsys"
)

// ProjectRecord describes a project.toml file: the project an
// orchestrator and team are started against. Requirements is embedded
// verbatim in the project-start prompt's free-text block.
type ProjectRecord struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Path         string `toml:"path"`
	Requirements string `toml:"requirements,omitempty"`
	Team         string `toml:"team"`
}

// TeamRecord describes a team.toml file: the roster of members brought
// up alongside the orchestrator.
type TeamRecord struct {
	ID      string         `toml:"id"`
	Name    string         `toml:"name"`
	Members []MemberRecord `toml:"members"`
}

// MemberRecord describes one team member. Skills are rendered as a
// Markdown list item suffix in the project-start prompt.
type MemberRecord struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	// Role selects the member's prompt template (prompts/<role>.md) and
	// is shown beside the member's name in the project-start prompt.
	Role   string   `toml:"role"`
	Skills []string `toml:"skills,omitempty"`
}

// LoadProject reads and parses a project.toml file at path using fs.
// All file I/O goes through fs for testability.
func LoadProject(fs fsys.FS, path string) (*ProjectRecord, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading project config %q: %w", path, err)
	}
	var p ProjectRecord
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("parsing project config %q: %w", path, err)
	}
	if err := ValidateProject(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadTeam reads and parses a team.toml file at path using fs.
func LoadTeam(fs fsys.FS, path string) (*TeamRecord, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading team config %q: %w", path, err)
	}
	var t TeamRecord
	if _, err := toml.Decode(string(data), &t); err != nil {
		return nil, fmt.Errorf("parsing team config %q: %w", path, err)
	}
	if err := ValidateTeam(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ValidateProject checks a ProjectRecord for the fields the Workflow
// Engine requires to compose the project-start prompt and launch the
// orchestrator.
func ValidateProject(p *ProjectRecord) error {
	if p.ID == "" {
		return fmt.Errorf("project: id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("project %q: name is required", p.ID)
	}
	if p.Path == "" {
		return fmt.Errorf("project %q: path is required", p.ID)
	}
	if p.Team == "" {
		return fmt.Errorf("project %q: team is required", p.ID)
	}
	return nil
}

// ValidateTeam checks a TeamRecord for duplicate member ids and missing
// required fields.
func ValidateTeam(t *TeamRecord) error {
	if t.ID == "" {
		return fmt.Errorf("team: id is required")
	}
	if len(t.Members) == 0 {
		return fmt.Errorf("team %q: at least one member is required", t.ID)
	}
	seen := make(map[string]bool, len(t.Members))
	for i, m := range t.Members {
		if m.ID == "" {
			return fmt.Errorf("team %q: member[%d]: id is required", t.ID, i)
		}
		if m.Role == "" {
			return fmt.Errorf("team %q: member %q: role is required", t.ID, m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("team %q: duplicate member id %q", t.ID, m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}
