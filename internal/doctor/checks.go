package doctor

import (
	"fmt"
	"os/exec"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/fsys"
	"github.com/agentmux/agentmux/internal/state"
	"github.com/agentmux/agentmux/internal/term"
)

// --- Config checks ---

// ProjectConfigCheck verifies project.toml parses and validates.
type ProjectConfigCheck struct {
	path string
	fs   fsys.FS
}

// NewProjectConfigCheck creates a check for a project.toml file.
func NewProjectConfigCheck(path string, fs fsys.FS) *ProjectConfigCheck {
	return &ProjectConfigCheck{path: path, fs: fs}
}

// Name returns the check identifier.
func (c *ProjectConfigCheck) Name() string { return "project-config" }

// Run parses and validates project.toml.
func (c *ProjectConfigCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	p, err := config.LoadProject(c.fs, c.path)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("%v", err)
		r.FixHint = fmt.Sprintf("check %s for required fields (id, name, path, team)", c.path)
		return r
	}
	r.Status = StatusOK
	r.Message = fmt.Sprintf("%s valid (project %q)", c.path, p.ID)
	return r
}

// CanFix returns false.
func (c *ProjectConfigCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *ProjectConfigCheck) Fix(_ *CheckContext) error { return nil }

// TeamConfigCheck verifies team.toml parses and validates.
type TeamConfigCheck struct {
	path string
	fs   fsys.FS
}

// NewTeamConfigCheck creates a check for a team.toml file.
func NewTeamConfigCheck(path string, fs fsys.FS) *TeamConfigCheck {
	return &TeamConfigCheck{path: path, fs: fs}
}

// Name returns the check identifier.
func (c *TeamConfigCheck) Name() string { return "team-config" }

// Run parses and validates team.toml.
func (c *TeamConfigCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	t, err := config.LoadTeam(c.fs, c.path)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("%v", err)
		r.FixHint = fmt.Sprintf("check %s for required fields (id, members, and each member's id and role)", c.path)
		return r
	}
	r.Status = StatusOK
	r.Message = fmt.Sprintf("%s valid (team %q, %d member(s))", c.path, t.ID, len(t.Members))
	return r
}

// CanFix returns false.
func (c *TeamConfigCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *TeamConfigCheck) Fix(_ *CheckContext) error { return nil }

// --- State document check ---

// StateDocumentCheck verifies the persisted JSON state document parses.
// A missing document is not an error — it simply means the project has
// never been started (state.Store.Load's own contract).
type StateDocumentCheck struct {
	store *state.Store
}

// NewStateDocumentCheck creates a check for the state document that
// store reads.
func NewStateDocumentCheck(store *state.Store) *StateDocumentCheck {
	return &StateDocumentCheck{store: store}
}

// Name returns the check identifier.
func (c *StateDocumentCheck) Name() string { return "state-document" }

// Run loads the state document and reports its shape.
func (c *StateDocumentCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	doc, err := c.store.Load()
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("state document unreadable: %v", err)
		return r
	}
	r.Status = StatusOK
	r.Message = fmt.Sprintf("state document readable (%d team(s))", len(doc.Teams))
	return r
}

// CanFix returns false.
func (c *StateDocumentCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *StateDocumentCheck) Fix(_ *CheckContext) error { return nil }

// --- Binary checks ---

// LookPathFunc is the function used to find binaries. Defaults to
// exec.LookPath. Tests can override this.
type LookPathFunc func(file string) (string, error)

// BinaryCheck verifies a binary is on PATH.
type BinaryCheck struct {
	binary   string
	skipMsg  string // non-empty means skip with OK + this message
	lookPath LookPathFunc
}

// NewBinaryCheck creates a check for the given binary. If skipMsg is
// non-empty, the check returns OK with that message instead of probing.
func NewBinaryCheck(binary string, skipMsg string, lp LookPathFunc) *BinaryCheck {
	if lp == nil {
		lp = exec.LookPath
	}
	return &BinaryCheck{binary: binary, skipMsg: skipMsg, lookPath: lp}
}

// Name returns the check identifier.
func (c *BinaryCheck) Name() string { return c.binary + "-binary" }

// Run checks if the binary is on PATH.
func (c *BinaryCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}
	if c.skipMsg != "" {
		r.Status = StatusOK
		r.Message = c.skipMsg
		return r
	}
	path, err := c.lookPath(c.binary)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("%s not found in PATH", c.binary)
		r.FixHint = fmt.Sprintf("install %s and ensure it's in PATH", c.binary)
		return r
	}
	r.Status = StatusOK
	r.Message = fmt.Sprintf("found %s", path)
	return r
}

// CanFix returns false.
func (c *BinaryCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *BinaryCheck) Fix(_ *CheckContext) error { return nil }

// --- Session checks ---

// SessionsCheck verifies the orchestrator and every team member have a
// live Driver session. Missing sessions are a warning, not an error —
// the project simply hasn't been started (or was stopped) rather than
// being broken.
type SessionsCheck struct {
	driver               term.Driver
	orchestratorSession  string
	projectID            string
	members              []config.MemberRecord
	sessionNameForMember func(projectID string, m config.MemberRecord) string
}

// NewSessionsCheck creates a check for orchestrator + team member
// session liveness. sessionNameForMember is injected rather than
// imported from internal/workflow, which keeps doctor free of any
// dependency on the engine package and usable from a bare CLI context
// with no Engine constructed.
func NewSessionsCheck(driver term.Driver, orchestratorSession, projectID string, members []config.MemberRecord, sessionNameForMember func(string, config.MemberRecord) string) *SessionsCheck {
	return &SessionsCheck{
		driver:               driver,
		orchestratorSession:  orchestratorSession,
		projectID:            projectID,
		members:              members,
		sessionNameForMember: sessionNameForMember,
	}
}

// Name returns the check identifier.
func (c *SessionsCheck) Name() string { return "sessions" }

// Run checks that the orchestrator and every team member session exist.
func (c *SessionsCheck) Run(_ *CheckContext) *CheckResult {
	r := &CheckResult{Name: c.Name()}

	var missing []string
	exists, err := c.driver.SessionExists(c.orchestratorSession)
	if err != nil {
		r.Status = StatusError
		r.Message = fmt.Sprintf("checking orchestrator session: %v", err)
		return r
	}
	if !exists {
		missing = append(missing, c.orchestratorSession)
	}

	for _, m := range c.members {
		sn := c.sessionNameForMember(c.projectID, m)
		exists, err := c.driver.SessionExists(sn)
		if err != nil {
			r.Status = StatusError
			r.Message = fmt.Sprintf("checking session %q: %v", sn, err)
			return r
		}
		if !exists {
			missing = append(missing, sn)
		}
	}

	if len(missing) == 0 {
		r.Status = StatusOK
		r.Message = fmt.Sprintf("all %d session(s) running", len(c.members)+1)
		return r
	}
	r.Status = StatusWarning
	r.Message = fmt.Sprintf("%d session(s) not running", len(missing))
	r.Details = missing
	r.FixHint = "run agentmux start-project to bring the team up"
	return r
}

// CanFix returns false.
func (c *SessionsCheck) CanFix() bool { return false }

// Fix is a no-op.
func (c *SessionsCheck) Fix(_ *CheckContext) error { return nil }
