package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Infof("starting %s", "widget")
	l.Warnf("retrying %d", 3)
	l.Errorf("failed: %v", "boom")

	out := buf.String()
	for _, want := range []string{"INFO: starting widget", "WARN: retrying 3", "ERROR: failed: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing line %q in output:\n%s", want, out)
		}
	}
}

func TestLoggerZeroValueWritesStderr(t *testing.T) {
	var l Logger
	// out() must never panic on the zero value; it falls back to os.Stderr.
	if l.out() == nil {
		t.Fatal("out() returned nil for zero-value Logger")
	}
}
