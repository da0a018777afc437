package main

import (
	"bytes"
	"io"
	"os"
	"testing"
)

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"SOLWATCH_SERVER_URL", "SERVER_URL", "SOLWATCH_SUBSCRIBER", "LEDGER_BACKEND", "LEDGER_PATH", "DATABASE_URL"} {
		// Empty values still count as set for flag lookup.
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"solwatch"}, args...))
	return out.String(), err
}
