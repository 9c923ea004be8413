// Package process spawns child processes with a controlled environment and
// reports their exit codes.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Command describes a child process.
type Command struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Runner starts a command and waits for it. A non-zero exit is reported
// through the exit code, not the error; err is set only when the process
// could not be started or ctx ended first.
type Runner interface {
	Run(ctx context.Context, cmd Command) (exitCode int, err error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (int, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (int, error) { return f(ctx, cmd) }

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts cmd and waits for it to exit.
func (ExecRunner) Run(ctx context.Context, cmd Command) (int, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	err := c.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("jobs: start %s: %w", cmd.Path, err)
}

// Sync flushes filesystem buffers by running sync(1).
func Sync(ctx context.Context, r Runner) error {
	code, err := r.Run(ctx, Command{Path: "sync"})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("jobs: sync exited with code %d", code)
	}
	return nil
}
