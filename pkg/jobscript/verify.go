package jobscript

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/process"
)

// Sleeper pauses between verification attempts.
type Sleeper func(ctx context.Context, d time.Duration) error

// Syncer flushes filesystem buffers. Errors are logged and ignored.
type Syncer func(ctx context.Context) error

// Verifier confirms a freshly written script is executable by running it with
// IntegrityEnvVar set and waiting for IntegrityExitCode.
//
// Nil collaborators and a zero Count take their defaults when Verify runs;
// a zero Sleep retries immediately.
type Verifier struct {
	Count   int
	Sleep   time.Duration
	Runner  process.Runner
	Sleeper Sleeper
	Syncer  Syncer
	Logger  *slog.Logger
}

// NewVerifier returns a Verifier with the default budget of
// config.DefaultIntegrityCount attempts spaced config.DefaultIntegritySleep apart.
func NewVerifier() *Verifier {
	return &Verifier{
		Count: config.DefaultIntegrityCount,
		Sleep: config.DefaultIntegritySleep,
	}
}

// Verify runs the script until it exits with IntegrityExitCode. After Count
// failed attempts it returns *core.IntegrityError.
func (v *Verifier) Verify(ctx context.Context, path string) error {
	count := v.Count
	if count <= 0 {
		count = config.DefaultIntegrityCount
	}
	runner := v.Runner
	if runner == nil {
		runner = process.ExecRunner{}
	}
	sleep := v.Sleeper
	if sleep == nil {
		sleep = sleepContext
	}
	syncFS := v.Syncer
	if syncFS == nil {
		syncFS = func(ctx context.Context) error { return process.Sync(ctx, runner) }
	}
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := process.Command{
		Path: path,
		Env:  []string{IntegrityEnvVar + "=1"},
	}

	for attempt := 1; attempt <= count; attempt++ {
		code, err := runner.Run(ctx, cmd)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil && code == IntegrityExitCode {
			if attempt > 1 {
				logger.Debug("job script verified", "path", path, "attempt", attempt)
			}
			return nil
		}
		logger.Debug("job script integrity check failed", "path", path, "attempt", attempt, "exit_code", code, "error", err)

		if err := syncFS(ctx); err != nil {
			logger.Debug("sync failed", "error", err)
		}
		if err := sleep(ctx, v.Sleep); err != nil {
			return err
		}
	}

	return &core.IntegrityError{Path: path, Attempts: count}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
