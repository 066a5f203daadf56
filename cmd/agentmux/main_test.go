package main

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"agentmux": func() { os.Exit(run(os.Args[1:], os.Stdout, os.Stderr)) },
	})
}

// TestCLI drives the built agentmux binary through the txtar scripts in
// testdata, exercising the CLI surface (version, status, start-project)
// end to end the way a shell user would, rather than through doDoctor/
// cmdStatus/cmdStartProject directly.
func TestCLI(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata",
	})
}
