package cgi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// WaitDelay is how long Run waits for a script's output to close after
// the script exits or its context is done.
const WaitDelay = time.Second

// Command describes one script invocation.
type Command struct {
	// Path is the absolute path of the executable.
	Path string
	// Dir is the working directory of the process.
	Dir string
	// Env replaces the process environment entirely.
	Env []string
	// Stdin is written to the process and then closed.
	Stdin  string
	Stderr io.Writer
}

// Runner runs a script to completion and returns everything it wrote
// to standard output.
type Runner interface {
	Run(ctx context.Context, c Command) ([]byte, error)
}

// RunnerFunc adapts an ordinary function to the Runner interface.
type RunnerFunc func(ctx context.Context, c Command) ([]byte, error)

// Run calls f(ctx, c).
func (f RunnerFunc) Run(ctx context.Context, c Command) ([]byte, error) {
	return f(ctx, c)
}

// ExitError reports a script that ran but exited unsuccessfully. Its
// output is still returned alongside it.
type ExitError struct {
	*exec.ExitError
}

// ExecRunner runs scripts as local subprocesses.
type ExecRunner struct{}

// Run implements Runner. A non-zero exit status is reported as an
// *ExitError together with the captured output; any other failure to
// spawn, feed or wait for the process is returned as is.
func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Path)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if cmd.Env == nil {
		// A nil Env would inherit ours.
		cmd.Env = []string{}
	}
	cmd.Stdin = strings.NewReader(c.Stdin)
	cmd.Stderr = c.Stderr

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	// Children of the script may hold stdout open long after it is gone.
	setProcessGroup(cmd)
	cmd.WaitDelay = WaitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &ExitError{exitErr}
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The script itself exited cleanly.
		return stdout.Bytes(), nil
	}
	return stdout.Bytes(), err
}
