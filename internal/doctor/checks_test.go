package doctor

import (
	"errors"
	"testing"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/fsys"
	"github.com/agentmux/agentmux/internal/state"
	"github.com/agentmux/agentmux/internal/term/fake"
)

func TestProjectConfigCheck(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/p/project.toml"] = []byte(`
id = "proj-1"
name = "Widget Factory"
path = "/work/widget"
team = "team-1"
`)
	c := NewProjectConfigCheck("/p/project.toml", fs)
	r := c.Run(&CheckContext{})
	if r.Status != StatusOK {
		t.Fatalf("expected StatusOK, got %v: %s", r.Status, r.Message)
	}

	fs.Files["/p/bad.toml"] = []byte(`name = "missing id"`)
	bad := NewProjectConfigCheck("/p/bad.toml", fs)
	r = bad.Run(&CheckContext{})
	if r.Status != StatusError {
		t.Fatalf("expected StatusError for missing id, got %v", r.Status)
	}
}

func TestTeamConfigCheck(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["/p/team.toml"] = []byte(`
id = "team-1"
name = "Alpha"
[[members]]
id = "m1"
name = "Dana"
role = "developer"
`)
	c := NewTeamConfigCheck("/p/team.toml", fs)
	r := c.Run(&CheckContext{})
	if r.Status != StatusOK {
		t.Fatalf("expected StatusOK, got %v: %s", r.Status, r.Message)
	}

	missing := NewTeamConfigCheck("/p/nope.toml", fs)
	r = missing.Run(&CheckContext{})
	if r.Status != StatusError {
		t.Fatalf("expected StatusError for missing file, got %v", r.Status)
	}
}

func TestStateDocumentCheck(t *testing.T) {
	store := state.New("/state.json", fsys.NewFake())
	c := NewStateDocumentCheck(store)
	r := c.Run(&CheckContext{})
	if r.Status != StatusOK {
		t.Fatalf("expected StatusOK for a never-written state doc, got %v: %s", r.Status, r.Message)
	}
}

func TestBinaryCheck(t *testing.T) {
	found := NewBinaryCheck("tmux", "", func(file string) (string, error) {
		return "/usr/bin/" + file, nil
	})
	r := found.Run(&CheckContext{})
	if r.Status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", r.Status)
	}

	missing := NewBinaryCheck("tmux", "", func(file string) (string, error) {
		return "", errors.New("not found")
	})
	r = missing.Run(&CheckContext{})
	if r.Status != StatusError {
		t.Fatalf("expected StatusError, got %v", r.Status)
	}

	skipped := NewBinaryCheck("tmux", "skipped: running in CI", nil)
	r = skipped.Run(&CheckContext{})
	if r.Status != StatusOK || r.Message != "skipped: running in CI" {
		t.Fatalf("expected skip message passthrough, got %+v", r)
	}
}

func TestSessionsCheck(t *testing.T) {
	driver := fake.New()
	members := []config.MemberRecord{
		{ID: "m1", Name: "Dana", Role: "developer"},
		{ID: "m2", Name: "Eli", Role: "developer"},
	}
	sessionName := func(projectID string, m config.MemberRecord) string {
		return "agentmux-" + projectID + "-" + m.ID
	}

	c := NewSessionsCheck(driver, "orchestrator", "proj-1", members, sessionName)
	r := c.Run(&CheckContext{})
	if r.Status != StatusWarning {
		t.Fatalf("expected StatusWarning with no sessions up, got %v", r.Status)
	}
	if len(r.Details) != 3 {
		t.Fatalf("expected 3 missing sessions, got %d: %v", len(r.Details), r.Details)
	}

	if err := driver.CreateSession("orchestrator", "/work", "main"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := driver.CreateSession("agentmux-proj-1-m1", "/work", "main"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := driver.CreateSession("agentmux-proj-1-m2", "/work", "main"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	r = c.Run(&CheckContext{})
	if r.Status != StatusOK {
		t.Fatalf("expected StatusOK once all sessions exist, got %v: %s", r.Status, r.Message)
	}
}
