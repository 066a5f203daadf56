package tmux_test

import (
	"crypto/rand"
	"fmt"
	"os/exec"
	"strings"
	"testing"

	"github.com/agentmux/agentmux/internal/term"
	"github.com/agentmux/agentmux/internal/term/tmux"
)

// requireTmux skips the test if tmux is not installed on PATH.
func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
}

// uniqueSessionName returns a collision-resistant session name prefixed
// with "agentmux-test-" so a TestMain sweep (or a human) can find and
// kill orphans from a crashed run without touching unrelated sessions.
func uniqueSessionName(t *testing.T) string {
	t.Helper()
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("generating unique session name: %v", err)
	}
	name := fmt.Sprintf("agentmux-test-%x", b)
	t.Cleanup(func() {
		_ = exec.Command("tmux", "kill-session", "-t", name).Run()
	})
	return name
}

func TestDriver_CreateSendCaptureKill(t *testing.T) {
	requireTmux(t)
	d := tmux.New()
	name := uniqueSessionName(t)

	if exists, err := d.SessionExists(name); err != nil || exists {
		t.Fatalf("SessionExists before create = (%v, %v), want (false, nil)", exists, err)
	}

	if err := d.CreateSession(name, "", ""); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := d.CreateSession(name, "", ""); !term.IsAlreadyExists(err) {
		t.Fatalf("CreateSession on existing session = %v, want AlreadyExists", err)
	}

	if exists, err := d.SessionExists(name); err != nil || !exists {
		t.Fatalf("SessionExists after create = (%v, %v), want (true, nil)", exists, err)
	}

	if err := d.SendKeys(name, []string{"echo hello-agentmux", term.Enter}); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}

	var out string
	var err error
	for range 20 {
		out, err = d.CapturePane(name, 50)
		if err != nil {
			t.Fatalf("CapturePane: %v", err)
		}
		if strings.Contains(out, "hello-agentmux") {
			break
		}
	}
	if !strings.Contains(out, "hello-agentmux") {
		t.Fatalf("CapturePane output %q does not contain expected echo", out)
	}

	infos, err := d.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	found := false
	for _, info := range infos {
		if info.Name == name {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListSessions did not include %q", name)
	}

	if err := d.KillSession(name); err != nil {
		t.Fatalf("KillSession: %v", err)
	}
	if exists, _ := d.SessionExists(name); exists {
		t.Fatalf("session %q still exists after KillSession", name)
	}
	if err := d.KillSession(name); !term.IsNotFound(err) {
		t.Fatalf("KillSession on missing session = %v, want NotFound", err)
	}
}

func TestDriver_BadName(t *testing.T) {
	requireTmux(t)
	d := tmux.New()
	if err := d.CreateSession("bad\nname", "", ""); !term.IsBadName(err) {
		t.Fatalf("CreateSession with bad name = %v, want BadName", err)
	}
	if _, err := d.CapturePane("ok-name", 0); !term.IsBadName(err) {
		t.Fatalf("CapturePane with lastNLines<=0 = %v, want BadName", err)
	}
}
