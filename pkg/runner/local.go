package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jdziat/simple-remote-jobs/pkg/computeenv"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/process"
)

// LocalRunner runs jobs on the handler host in a shared compute environment.
type LocalRunner struct {
	settings Settings
	opts     options
}

var _ Runner = (*LocalRunner)(nil)

// NewLocalRunner creates a runner that executes job scripts below
// settings.JobsDirectory.
func NewLocalRunner(settings Settings, opts ...Option) *LocalRunner {
	return &LocalRunner{settings: settings, opts: applyOptions(opts)}
}

// Run writes and verifies the job script, executes it and collects outputs
// that were directed into the working directory.
func (r *LocalRunner) Run(ctx context.Context, job *core.Job, rec Recorder) (Result, error) {
	jio := NewJobIO(job, r.settings)
	env := computeenv.NewShared(jio)
	dir := jio.WorkingDirectory()
	logger := r.opts.logger.With("job_id", job.ID, "tool_id", job.ToolID)

	for _, d := range []string{dir, env.ConfigDirectory(), filepath.Join(dir, computeenv.OutputsDirName)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Result{}, fmt.Errorf("jobs: create working directory: %w", err)
		}
	}
	if err := rec.WorkingDirectory(ctx, dir); err != nil {
		return Result{}, err
	}

	prepared, err := Prepare(job, env, jio, r.settings, r.opts.buildOpts...)
	if err != nil {
		return Result{}, err
	}
	scriptPath := filepath.Join(dir, ScriptName)
	if _, err := jobscript.Write(ctx, scriptPath, prepared.Script, r.opts.writeOpts...); err != nil {
		return Result{}, err
	}

	stdoutPath := filepath.Join(dir, fmt.Sprintf("galaxy_%s.o", job.ID))
	stderrPath := filepath.Join(dir, fmt.Sprintf("galaxy_%s.e", job.ID))
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return Result{}, err
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return Result{}, err
	}
	defer stderr.Close()

	logger.Debug("running job script", "path", scriptPath)
	code, err := r.opts.process.Run(ctx, process.Command{
		Path:   scriptPath,
		Dir:    dir,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return Result{}, err
	}
	if recorded, err := readExitCode(prepared.ExitCodePath); err == nil {
		code = recorded
	} else {
		logger.Warn("no exit code file, using process exit status", "error", err, "exit_code", code)
	}

	if err := r.collectOutputs(job, env); err != nil {
		return Result{}, err
	}
	if m, err := jobscript.ReadCoreMetrics(dir); err == nil {
		logger.Debug("job metrics", "slots", m.Slots, "memory_mb", m.MemoryMB, "runtime", m.Runtime())
	}

	return Result{
		ExitCode:         code,
		WorkingDirectory: dir,
		Stdout:           tail(stdoutPath),
		Stderr:           tail(stderrPath),
	}, nil
}

// collectOutputs moves outputs written in the working directory to their
// dataset paths.
func (r *LocalRunner) collectOutputs(job *core.Job, env computeenv.ComputeEnvironment) error {
	for _, d := range job.Outputs() {
		written := env.OutputPathRewrite(d)
		if written == d.FilePath() {
			continue
		}
		if _, err := os.Stat(written); os.IsNotExist(err) {
			r.opts.logger.Warn("job did not produce output", "job_id", job.ID, "output", d.Name)
			continue
		}
		if err := moveFile(written, d.FilePath()); err != nil {
			return fmt.Errorf("jobs: collect output %s: %w", d.Name, err)
		}
	}
	return nil
}
