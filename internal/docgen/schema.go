// Package docgen generates JSON Schema and markdown documentation from
// AgentMux's Go config and state structs.
package docgen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/state"
)

// ModuleRoot finds the repo root by walking up from the current directory
// looking for go.mod. Returns the absolute path.
func ModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent of %s", dir)
		}
		dir = parent
	}
}

// newReflector creates a jsonschema.Reflector configured for TOML field
// names with Go doc comments extracted from the source tree.
//
// AddGoComments requires the path parameter to be "." with the working
// directory set to the module root, so that filepath.Walk produces paths
// like "internal/config" which gopath.Join maps to the correct import path.
func newReflector() (*jsonschema.Reflector, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}

	// Save and restore CWD — AddGoComments needs CWD at module root.
	orig, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return nil, fmt.Errorf("chdir to module root: %w", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	r := &jsonschema.Reflector{
		FieldNameTag: "toml",
	}
	if err := r.AddGoComments("github.com/agentmux/agentmux", "."); err != nil {
		return nil, fmt.Errorf("extracting Go comments: %w", err)
	}
	return r, nil
}

// newJSONReflector is newReflector's counterpart for types tagged with
// `json` rather than `toml` field names — used for the state document,
// which is JSON on disk, not TOML.
func newJSONReflector() (*jsonschema.Reflector, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}
	orig, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return nil, fmt.Errorf("chdir to module root: %w", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	r := &jsonschema.Reflector{}
	if err := r.AddGoComments("github.com/agentmux/agentmux", "."); err != nil {
		return nil, fmt.Errorf("extracting Go comments: %w", err)
	}
	return r, nil
}

// GenerateProjectSchema produces a JSON Schema for project.toml.
func GenerateProjectSchema() (*jsonschema.Schema, error) {
	r, err := newReflector()
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&config.ProjectRecord{})
	s.Title = "AgentMux Project"
	s.Description = "Schema for project.toml — describes a project an orchestrator and team are started against."
	return s, nil
}

// GenerateTeamSchema produces a JSON Schema for team.toml.
func GenerateTeamSchema() (*jsonschema.Schema, error) {
	r, err := newReflector()
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&config.TeamRecord{})
	s.Title = "AgentMux Team"
	s.Description = "Schema for team.toml — the roster of members brought up alongside the orchestrator."
	return s, nil
}

// GenerateStateSchema produces a JSON Schema for the persisted
// .agentmux/state.json document (spec.md §6).
func GenerateStateSchema() (*jsonschema.Schema, error) {
	r, err := newJSONReflector()
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&state.Document{})
	s.Title = "AgentMux State Document"
	s.Description = "Schema for .agentmux/state.json — the persisted orchestrator/team registration record."
	return s, nil
}
