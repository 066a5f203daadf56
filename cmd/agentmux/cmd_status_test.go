package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/state"
)

func TestPrintStatusNeverStarted(t *testing.T) {
	var stdout bytes.Buffer
	printStatus(&stdout, &state.Document{})

	out := stdout.String()
	if !strings.Contains(out, "orchestrator: never started") {
		t.Errorf("stdout missing never-started line, got:\n%s", out)
	}
	if !strings.Contains(out, "no teams recorded") {
		t.Errorf("stdout missing no-teams line, got:\n%s", out)
	}
}

func TestPrintStatusWithTeams(t *testing.T) {
	doc := &state.Document{
		Orchestrator: state.Orchestrator{SessionID: "agentmux-orchestrator", Status: registry.StatusActive},
		Teams: []state.Team{
			{
				ID: "alpha",
				Members: []state.Member{
					{ID: "m1", Role: "developer", AgentStatus: registry.StatusActive, WorkingStatus: "idle"},
					{ID: "m2", Role: "qa", AgentStatus: registry.StatusActivating, WorkingStatus: "idle"},
				},
			},
		},
	}

	var stdout bytes.Buffer
	printStatus(&stdout, doc)

	out := stdout.String()
	if !strings.Contains(out, "orchestrator: agentmux-orchestrator (active)") {
		t.Errorf("stdout missing orchestrator line, got:\n%s", out)
	}
	if !strings.Contains(out, "team alpha:") {
		t.Errorf("stdout missing team header, got:\n%s", out)
	}
	if !strings.Contains(out, "m1 (developer) — active, working=idle") {
		t.Errorf("stdout missing member m1 line, got:\n%s", out)
	}
	if !strings.Contains(out, "m2 (qa) — activating, working=idle") {
		t.Errorf("stdout missing member m2 line, got:\n%s", out)
	}
}
