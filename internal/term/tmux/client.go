// Package tmux adapts [term.Driver] to a real tmux installation.
//
// Every call builds a single shell command line and runs it through one
// "sh -c <command>" invocation, following the same shell-escaping
// discipline the teacher uses for session setup commands: every
// interpolated value passes through [term.ShellQuote] so the driver is
// the sole place that quotes user- or agent-provided strings.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/agentmux/agentmux/internal/term"
)

// DefaultTimeout is the hard wall-clock budget for a single tmux
// invocation. On expiry the child is killed with SIGKILL.
const DefaultTimeout = 5 * time.Second

// Driver shells out to a tmux binary on PATH. Holds no mutable session
// state; the only configuration is the invocation timeout, so it is
// safe for concurrent use — tmux itself serializes at the session level.
type Driver struct {
	Timeout time.Duration
	Bin     string // tmux binary name/path; defaults to "tmux"
}

var _ term.Driver = (*Driver)(nil)

// New returns a [Driver] with [DefaultTimeout] and the "tmux" binary.
func New() *Driver {
	return &Driver{Timeout: DefaultTimeout, Bin: "tmux"}
}

func (d *Driver) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d *Driver) bin() string {
	if d.Bin == "" {
		return "tmux"
	}
	return d.Bin
}

// run builds "sh -c '<cmdline>'" and executes it with a hard deadline.
// On timeout the child is SIGKILLed (via context cancellation + a short
// WaitDelay, mirroring the teacher's exec.Provider) and a [term.KindTimeout]
// error is returned.
func (d *Driver) run(op, name, cmdline string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.WaitDelay = 500 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", term.NewError(term.KindTimeout, op, name, ctx.Err())
	}
	if err != nil {
		// Most command lines redirect 2>&1, so tmux's message may be on stdout.
		msg := strings.TrimSpace(stderr.String() + stdout.String())
		if isNotFoundMessage(msg) {
			return "", term.NewError(term.KindNotFound, op, name, nil)
		}
		var exitErr *exec.ExitError
		if !errorsAs(err, &exitErr) {
			return "", term.NewError(term.KindSpawnFailed, op, name, err)
		}
		return "", term.NewError(term.KindSpawnFailed, op, name, fmt.Errorf("%s", msg))
	}
	return stdout.String(), nil
}

func errorsAs(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// isNotFoundMessage reports whether a tmux stderr message indicates the
// session does not exist, so callers can normalize it to [term.KindNotFound]
// instead of a generic [term.KindSpawnFailed].
func isNotFoundMessage(msg string) bool {
	return strings.Contains(msg, "can't find session") ||
		strings.Contains(msg, "session not found") ||
		strings.Contains(msg, "no server running")
}

func (d *Driver) SessionExists(name string) (bool, error) {
	if err := term.ValidateName(name); err != nil {
		return false, err
	}
	cmdline := fmt.Sprintf("tmux has-session -t %s 2>&1", term.ShellQuote(name))
	_, err := d.run("sessionExists", name, cmdline)
	if err == nil {
		return true, nil
	}
	if term.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *Driver) CreateSession(name, workingDir, windowName string) error {
	if err := term.ValidateName(name); err != nil {
		return err
	}
	exists, err := d.SessionExists(name)
	if err != nil {
		return err
	}
	if exists {
		return term.NewError(term.KindAlreadyExists, "createSession", name, nil)
	}

	var b strings.Builder
	b.WriteString("tmux new-session -d -s ")
	b.WriteString(term.ShellQuote(name))
	if workingDir != "" {
		b.WriteString(" -c ")
		b.WriteString(term.ShellQuote(workingDir))
	}
	_, err = d.run("createSession", name, b.String())
	if err != nil {
		return err
	}

	if windowName != "" {
		renameCmd := fmt.Sprintf("tmux rename-window -t %s %s", term.ShellQuote(name), term.ShellQuote(windowName))
		if _, err := d.run("createSession", name, renameCmd); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) KillSession(name string) error {
	if err := term.ValidateName(name); err != nil {
		return err
	}
	cmdline := fmt.Sprintf("tmux kill-session -t %s 2>&1", term.ShellQuote(name))
	_, err := d.run("killSession", name, cmdline)
	return err
}

// SendKeys translates the token array into a single "tmux send-keys"
// invocation. Literal strings are passed with -l (literal flag) so tmux
// does not interpret them as key names; named tokens ([term.Enter],
// [term.Escape], [term.CtrlC]) are passed bare. [term.Slash] is sent
// as the literal "/".
func (d *Driver) SendKeys(name string, keys []string) error {
	if err := term.ValidateName(name); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("tmux send-keys -t ")
	b.WriteString(term.ShellQuote(name))
	for _, k := range keys {
		b.WriteByte(' ')
		if isNamedKeyToken(k) {
			b.WriteString(k)
		} else {
			b.WriteString("-l -- ")
			b.WriteString(term.ShellQuote(k))
		}
	}
	cmdline := b.String() + " 2>&1"
	_, err := d.run("sendKeys", name, cmdline)
	return err
}

func isNamedKeyToken(k string) bool {
	switch k {
	case term.Enter, term.Escape, term.CtrlC, "Down", "Up", "Left", "Right", "Tab":
		return true
	default:
		return false
	}
}

func (d *Driver) CapturePane(name string, lastNLines int) (string, error) {
	if err := term.ValidateName(name); err != nil {
		return "", err
	}
	if err := term.ValidateLines(lastNLines); err != nil {
		return "", err
	}
	cmdline := fmt.Sprintf("tmux capture-pane -t %s -p -S -%d 2>&1", term.ShellQuote(name), lastNLines)
	return d.run("capturePane", name, cmdline)
}

func (d *Driver) ListSessions() ([]term.SessionInfo, error) {
	format := "#{session_name}\t#{session_created}\t#{session_attached}\t#{session_windows}"
	cmdline := fmt.Sprintf("tmux list-sessions -F %s 2>&1", term.ShellQuote(format))
	out, err := d.run("listSessions", "", cmdline)
	if err != nil {
		if term.IsNotFound(err) || strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return parseListSessions(out), nil
}

func parseListSessions(out string) []term.SessionInfo {
	var infos []term.SessionInfo
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		created, _ := strconv.ParseInt(fields[1], 10, 64)
		windows, _ := strconv.Atoi(fields[3])
		infos = append(infos, term.SessionInfo{
			Name:          fields[0],
			CreatedAtUnix: created,
			Attached:      fields[2] == "1",
			WindowCount:   windows,
		})
	}
	return infos
}
