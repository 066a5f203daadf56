// Package logging writes level-prefixed lines straight to an io.Writer,
// the same way the teacher logs: plain fmt.Fprintf calls to os.Stderr,
// no structured logging library.
package logging

import (
	"fmt"
	"io"
	"os"
)

// Logger writes "PREFIX: message" lines to w. The zero value writes to
// os.Stderr.
type Logger struct {
	w io.Writer
}

// New returns a Logger that writes to w.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Default returns a Logger writing to os.Stderr.
func Default() *Logger {
	return &Logger{w: os.Stderr}
}

func (l *Logger) out() io.Writer {
	if l.w == nil {
		return os.Stderr
	}
	return l.w
}

// Infof writes an informational line.
func (l *Logger) Infof(format string, args ...any) {
	fmt.Fprintf(l.out(), "INFO: "+format+"\n", args...) //nolint:errcheck // best-effort logging
}

// Warnf writes a warning line.
func (l *Logger) Warnf(format string, args ...any) {
	fmt.Fprintf(l.out(), "WARN: "+format+"\n", args...) //nolint:errcheck // best-effort logging
}

// Errorf writes an error line.
func (l *Logger) Errorf(format string, args ...any) {
	fmt.Fprintf(l.out(), "ERROR: "+format+"\n", args...) //nolint:errcheck // best-effort logging
}
