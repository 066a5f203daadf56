// Package term defines the Terminal Driver contract: a thin adapter over
// a terminal-multiplexer tool (tmux by default) used to create/kill
// sessions, send keystrokes, capture pane contents, and list sessions.
//
// Implementations: [tmux.Driver] shells out to a real tmux binary,
// [k8sdriver.Driver] hosts sessions as Kubernetes pods, and [fake.Driver]
// is an in-memory spy/fake for tests. All three satisfy [Driver] and must
// reject bad names before spawning any child process or API call — see
// [ValidateName].
package term

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentmux/agentmux/internal/telemetry"
)

// ErrKind classifies a [DriverError].
type ErrKind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown ErrKind = iota
	// KindTimeout means the invocation exceeded its wall-clock budget
	// and the child process was killed.
	KindTimeout
	// KindNotFound means the underlying tool reported the session does
	// not exist.
	KindNotFound
	// KindAlreadyExists means createSession was called for a name that
	// is already live.
	KindAlreadyExists
	// KindSpawnFailed means the child process (or API call) could not
	// be started at all.
	KindSpawnFailed
	// KindBadName means the session name failed [ValidateName].
	KindBadName
)

func (k ErrKind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindSpawnFailed:
		return "SpawnFailed"
	case KindBadName:
		return "BadName"
	default:
		return "Unknown"
	}
}

// DriverError is the error type returned by every [Driver] method.
// Callers should use [errors.As] to inspect Kind, or the convenience
// predicates [IsNotFound] / [IsAlreadyExists] / [IsBadName].
type DriverError struct {
	Kind ErrKind
	Op   string // operation name, e.g. "createSession"
	Name string // session name involved, if any
	Err  error  // wrapped underlying error, if any
}

func (e *DriverError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Name != "" {
		msg += fmt.Sprintf(" %q", e.Name)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewError constructs a [DriverError], recording it to the optional
// telemetry pipeline (best-effort, never blocks the caller).
func NewError(kind ErrKind, op, name string, err error) *DriverError {
	de := &DriverError{Kind: kind, Op: op, Name: name, Err: err}
	telemetry.RecordDriverError(context.Background(), name, kind.String(), de)
	return de
}

// IsNotFound reports whether err is a [DriverError] with [KindNotFound].
func IsNotFound(err error) bool { return kindIs(err, KindNotFound) }

// IsAlreadyExists reports whether err is a [DriverError] with [KindAlreadyExists].
func IsAlreadyExists(err error) bool { return kindIs(err, KindAlreadyExists) }

// IsBadName reports whether err is a [DriverError] with [KindBadName].
func IsBadName(err error) bool { return kindIs(err, KindBadName) }

// IsTimeout reports whether err is a [DriverError] with [KindTimeout].
func IsTimeout(err error) bool { return kindIs(err, KindTimeout) }

func kindIs(err error, kind ErrKind) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// SessionInfo describes one running session as reported by listSessions.
type SessionInfo struct {
	Name          string
	CreatedAtUnix int64
	Attached      bool
	WindowCount   int
}

// Driver is the narrow, testable contract over a terminal-multiplexer
// tool. No method retries internally; CreateSession first checks
// SessionExists and may rename the window afterwards, so it can make
// more than one call to the underlying tool. Implementations MUST validate the session name via
// [ValidateName] and return a [KindBadName] error before spawning any
// child process, and MUST normalize a "session not found" response from
// the underlying tool into [KindNotFound] rather than bubbling a generic
// error.
type Driver interface {
	// SessionExists reports whether a session with the given name exists.
	SessionExists(name string) (bool, error)

	// CreateSession creates a new detached session rooted at workingDir.
	// windowName renames the initial window when non-empty.
	// Returns a [KindAlreadyExists] error if the name is taken.
	CreateSession(name, workingDir, windowName string) error

	// KillSession destroys the named session. Returns a [KindNotFound]
	// error if it doesn't exist.
	KillSession(name string) error

	// SendKeys delivers keys as a single invocation. Each element is
	// either a literal string (sent as-is) or a named key token (see
	// [Enter], [Escape], [CtrlC], [Slash]). A literal is never followed
	// by an implicit Enter — callers must include the token explicitly.
	SendKeys(name string, keys []string) error

	// CapturePane returns the last lastNLines lines of pane content.
	// lastNLines <= 0 is rejected with [KindBadName].
	CapturePane(name string, lastNLines int) (string, error)

	// ListSessions returns every live session known to the driver.
	ListSessions() ([]SessionInfo, error)
}

// Named key tokens recognized by SendKeys. Any other array element is
// sent as a literal string.
const (
	Enter  = "Enter"
	Escape = "Escape"
	CtrlC  = "C-c"
	Slash  = "/"
)

// ValidateName rejects session names that are unsafe to interpolate into
// a shell command or that violate the naming contract (ASCII, no
// whitespace, <= 64 bytes). It must run before any child process or API
// call is made — this is what keeps P8 true across every [Driver]
// backend.
func ValidateName(name string) error {
	if name == "" {
		return NewError(KindBadName, "validateName", name, errors.New("empty session name"))
	}
	if len(name) > 64 {
		return NewError(KindBadName, "validateName", name, errors.New("session name exceeds 64 bytes"))
	}
	for _, r := range name {
		if r == '\n' || r == '\r' || r == '\t' || r == '\'' || r < 0x20 || r == 0x7f {
			return NewError(KindBadName, "validateName", name, fmt.Errorf("illegal character %q", r))
		}
		if r == ' ' {
			return NewError(KindBadName, "validateName", name, errors.New("session name contains whitespace"))
		}
		if r > 0x7e {
			return NewError(KindBadName, "validateName", name, errors.New("session name must be ASCII"))
		}
	}
	return nil
}

// ValidateLines rejects a non-positive lastNLines argument to CapturePane,
// per P9.
func ValidateLines(lastNLines int) error {
	if lastNLines <= 0 {
		return NewError(KindBadName, "capturePane", "", fmt.Errorf("lastNLines must be positive, got %d", lastNLines))
	}
	return nil
}

// ShellQuote single-quotes s for safe interpolation into a POSIX shell
// command line, escaping embedded single quotes with the '\'' idiom.
// This is the sole place that should ever build a quoted shell argument
// from user-provided or agent-provided text.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
