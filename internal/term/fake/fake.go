// Package fake is an in-memory [term.Driver] for testing. It records all
// calls (spy) and simulates session state (fake), following the same
// pattern as the teacher's session.Fake: a mutex-guarded map plus a Calls
// log, with a Broken mode that fails CreateSession.
package fake

import (
	"sync"
	"time"

	"github.com/agentmux/agentmux/internal/term"
)

// Call records a single method invocation.
type Call struct {
	Method string
	Name   string
	Keys   []string
}

// sessionState tracks one live fake session.
type sessionState struct {
	workingDir string
	windowName string
	createdAt  int64
	pane       string // accumulated pane text, newest appended at the end
}

// Driver is a goroutine-safe in-memory [term.Driver].
type Driver struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	Calls    []Call

	// Broken makes CreateSession fail with a SpawnFailed error.
	// KillSession and SendKeys ignore it.
	Broken bool

	// FrozenPane, when non-nil, is returned verbatim by CapturePane for
	// the named session regardless of SendKeys activity — used to
	// simulate a CLI that never reaches an interactive prompt (P7,
	// scenario 3 in spec.md §8).
	FrozenPane map[string]string

	// Now lets tests control the clock used for CreatedAtUnix.
	Now func() time.Time
}

var _ term.Driver = (*Driver)(nil)

// New returns a ready-to-use [Driver].
func New() *Driver {
	return &Driver{sessions: make(map[string]*sessionState), Now: time.Now}
}

func (d *Driver) record(method, name string, keys []string) {
	d.Calls = append(d.Calls, Call{Method: method, Name: name, Keys: keys})
}

func (d *Driver) SessionExists(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SessionExists", name, nil)
	if err := term.ValidateName(name); err != nil {
		return false, err
	}
	_, ok := d.sessions[name]
	return ok, nil
}

func (d *Driver) CreateSession(name, workingDir, windowName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateSession", name, nil)
	if err := term.ValidateName(name); err != nil {
		return err
	}
	if d.Broken {
		return term.NewError(term.KindSpawnFailed, "createSession", name, errBroken)
	}
	if _, exists := d.sessions[name]; exists {
		return term.NewError(term.KindAlreadyExists, "createSession", name, nil)
	}
	d.sessions[name] = &sessionState{
		workingDir: workingDir,
		windowName: windowName,
		createdAt:  d.Now().Unix(),
	}
	return nil
}

func (d *Driver) KillSession(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("KillSession", name, nil)
	if err := term.ValidateName(name); err != nil {
		return err
	}
	if _, exists := d.sessions[name]; !exists {
		return term.NewError(term.KindNotFound, "killSession", name, nil)
	}
	delete(d.sessions, name)
	delete(d.FrozenPane, name)
	return nil
}

// SendKeys appends a readable rendering of the keys to the session's pane
// buffer, unless the session has a FrozenPane configured — in which case
// the pane never changes, simulating a shell that ignores input.
func (d *Driver) SendKeys(name string, keys []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SendKeys", name, keys)
	if err := term.ValidateName(name); err != nil {
		return err
	}
	s, exists := d.sessions[name]
	if !exists {
		return term.NewError(term.KindNotFound, "sendKeys", name, nil)
	}
	if _, frozen := d.FrozenPane[name]; frozen {
		return nil
	}
	for _, k := range keys {
		switch k {
		case term.Enter:
			s.pane += "\n"
		case term.Escape:
			// Escape never produces visible output.
		default:
			s.pane += k
		}
	}
	return nil
}

func (d *Driver) CapturePane(name string, lastNLines int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CapturePane", name, nil)
	if err := term.ValidateName(name); err != nil {
		return "", err
	}
	if err := term.ValidateLines(lastNLines); err != nil {
		return "", err
	}
	if frozen, ok := d.FrozenPane[name]; ok {
		return frozen, nil
	}
	s, exists := d.sessions[name]
	if !exists {
		return "", term.NewError(term.KindNotFound, "capturePane", name, nil)
	}
	return lastLines(s.pane, lastNLines), nil
}

func lastLines(text string, n int) string {
	lines := splitLines(text)
	if len(lines) <= n {
		return text
	}
	return joinLines(lines[len(lines)-n:])
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}

func (d *Driver) ListSessions() ([]term.SessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ListSessions", "", nil)
	var infos []term.SessionInfo
	for name, s := range d.sessions {
		infos = append(infos, term.SessionInfo{
			Name:          name,
			CreatedAtUnix: s.createdAt,
			WindowCount:   1,
		})
	}
	return infos, nil
}

// SetFrozenPane configures the named session to return content unaffected
// by SendKeys — used to simulate a shell-only session that never becomes
// interactive (spec.md §8 scenario 3, P7).
func (d *Driver) SetFrozenPane(name, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FrozenPane == nil {
		d.FrozenPane = make(map[string]string)
	}
	d.FrozenPane[name] = content
}

type brokenErr struct{}

func (brokenErr) Error() string { return "fake driver is broken" }

var errBroken = brokenErr{}
