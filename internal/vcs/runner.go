package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Timeouts for subprocess invocations. Local plumbing is fast; anything that
// touches the network gets a minute.
const (
	LocalTimeout   = 30 * time.Second
	NetworkTimeout = 60 * time.Second
)

// Runner executes a subprocess in a directory and returns stdout. Tests
// inject a scripted implementation.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// ExecError is a non-zero subprocess exit. It is a recoverable failure
// returned to the caller, never fatal; Stderr carries the captured output.
type ExecError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed (exit %d): %s", e.Cmd, e.ExitCode, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("%s failed (exit %d)", e.Cmd, e.ExitCode)
}

// execRunner shells out for real. Arguments are always passed positionally;
// nothing is ever interpolated through a shell.
type execRunner struct{}

// NewRunner returns the production subprocess runner.
func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), &ExecError{
			Cmd:      name + " " + strings.Join(args, " "),
			ExitCode: exitCode,
			Stderr:   stderr.String(),
		}
	}

	return stdout.Bytes(), nil
}
