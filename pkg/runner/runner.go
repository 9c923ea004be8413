package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// Recorder receives bookkeeping about a job while it runs.
type Recorder interface {
	// WorkingDirectory records where the job executes.
	WorkingDirectory(ctx context.Context, dir string) error
	// ExternalID records the id a remote execution host gave the job.
	ExternalID(ctx context.Context, id string) error
}

// Result is the outcome of a job that ran to completion.
type Result struct {
	ExitCode         int
	ExternalID       string
	WorkingDirectory string
	Stdout           string
	Stderr           string
}

// Runner prepares and executes one job. It returns an error when the job
// could not be run; a tool that ran and failed is reported through
// Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, job *core.Job, rec Recorder) (Result, error)
}

// NopRecorder discards bookkeeping.
type NopRecorder struct{}

func (NopRecorder) WorkingDirectory(context.Context, string) error { return nil }
func (NopRecorder) ExternalID(context.Context, string) error       { return nil }

// maxOutput bounds the stdout and stderr kept in a Result.
const maxOutput = 64 << 10

// readExitCode parses the exit code file a job script writes.
func readExitCode(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("jobs: malformed exit code file %s: %w", path, err)
	}
	return code, nil
}

// tail returns at most the last maxOutput bytes of a file.
func tail(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.Size() > maxOutput {
		if _, err := f.Seek(-maxOutput, io.SeekEnd); err != nil {
			return ""
		}
	}
	b, _ := io.ReadAll(f)
	return string(b)
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// isCancelled reports whether err came from ctx ending.
func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
