package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/process"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// Staging directory names below a job directory.
const (
	WorkingDirName      = "working"
	InputsDirName       = "inputs"
	OutputsDirName      = "outputs"
	MetadataDirName     = "metadata"
	ToolFilesDirName    = "tool_files"
	UnstructuredDirName = "unstructured"
	HomeDirName         = "home"
	TmpDirName          = "tmp"
	ConfigsDirName      = "configs"

	// DefaultScriptName is used when a launch config names no script.
	DefaultScriptName = "tool_script.sh"

	stdoutFile = "stdout"
	stderrFile = "stderr"
)

// maxOutput bounds the stdout and stderr returned by Status.
const maxOutput = 64 << 10

// Manager runs job scripts on this host under a staging root, one directory
// per job.
type Manager struct {
	root      string
	runner    process.Runner
	writeOpts []jobscript.WriteOption
	slots     chan struct{}
	logger    *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

type job struct {
	id     string
	dir    string
	toolID string

	state        string
	exitCodePath string
	returnCode   *int
	cancel       context.CancelFunc
	cancelled    bool
	done         chan struct{}
}

var _ remote.JobManager = (*Manager)(nil)

// New creates a Manager staging jobs under root.
func New(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("jobs: manager staging root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("jobs: resolve staging root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: create staging root: %w", err)
	}

	m := &Manager{
		root:   abs,
		runner: process.ExecRunner{},
		logger: slog.Default(),
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt.applyManager(m)
	}
	return m, nil
}

// Root returns the staging root.
func (m *Manager) Root() string { return m.root }

func validateJobID(id string) error {
	if err := security.ValidateFileName(id); err != nil {
		return fmt.Errorf("%w: job id %q", core.ErrInvalidFileName, id)
	}
	if strings.ContainsRune(id, '/') {
		return fmt.Errorf("%w: job id %q contains a separator", core.ErrInvalidFileName, id)
	}
	return nil
}

func (m *Manager) layout(j *job) remote.SetupResult {
	working := filepath.Join(j.dir, WorkingDirName)
	return remote.SetupResult{
		JobID:                      j.id,
		WorkingDirectory:           working,
		InputsDirectory:            filepath.Join(j.dir, InputsDirName),
		OutputsDirectory:           filepath.Join(j.dir, OutputsDirName),
		ConfigsDirectory:           filepath.Join(working, ConfigsDirName),
		MetadataDirectory:          filepath.Join(j.dir, MetadataDirName),
		ToolsDirectory:             filepath.Join(j.dir, ToolFilesDirName),
		UnstructuredFilesDirectory: filepath.Join(j.dir, UnstructuredDirName),
		HomeDirectory:              filepath.Join(j.dir, HomeDirName),
		TmpDirectory:               filepath.Join(j.dir, TmpDirName),
		SystemProperties:           remote.SystemProperties{Separator: string(filepath.Separator)},
	}
}

// Setup creates the staging directories for jobID, generating an id when it
// is empty. Repeating Setup for a known job returns its layout.
func (m *Manager) Setup(_ context.Context, jobID string, toolID string) (remote.SetupResult, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if err := validateJobID(jobID); err != nil {
		return remote.SetupResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[jobID]; ok {
		return m.layout(j), nil
	}

	j := &job{
		id:     jobID,
		dir:    filepath.Join(m.root, jobID),
		toolID: toolID,
		state:  remote.StatusSetup,
		done:   make(chan struct{}),
	}
	res := m.layout(j)
	for _, dir := range []string{
		res.WorkingDirectory,
		res.InputsDirectory,
		res.OutputsDirectory,
		res.ConfigsDirectory,
		res.MetadataDirectory,
		res.ToolsDirectory,
		res.UnstructuredFilesDirectory,
		res.HomeDirectory,
		res.TmpDirectory,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return remote.SetupResult{}, fmt.Errorf("jobs: create staging directory: %w", err)
		}
	}
	m.jobs[jobID] = j

	m.logger.Debug("remote job set up", "job_id", jobID, "tool_id", toolID, "dir", j.dir)
	return res, nil
}

func (m *Manager) lookup(jobID string) (*job, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return j, nil
}

// Submit writes and verifies the job script, then runs it in the background.
func (m *Manager) Submit(ctx context.Context, jobID string, launch remote.LaunchConfig) error {
	j, err := m.lookup(jobID)
	if err != nil {
		return err
	}

	name := launch.ScriptName
	if name == "" {
		name = DefaultScriptName
	}
	if err := security.ValidateFileName(name); err != nil {
		return err
	}

	m.mu.Lock()
	if j.state != remote.StatusSetup {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrAlreadySubmitted, jobID)
	}
	j.state = remote.StatusQueued
	m.mu.Unlock()

	working := filepath.Join(j.dir, WorkingDirName)
	scriptPath := filepath.Join(working, name)
	_, writeErr := jobscript.Write(ctx, scriptPath, launch.JobScript, m.writeOpts...)

	exitCodePath := launch.ExitCodePath
	if exitCodePath != "" && !filepath.IsAbs(exitCodePath) {
		exitCodePath = filepath.Join(working, exitCodePath)
	}

	// Cancel or Clean may have run while the script was written.
	m.mu.Lock()
	if m.jobs[jobID] != j {
		defer m.mu.Unlock()
		if _, ok := m.jobs[jobID]; !ok {
			_ = os.RemoveAll(j.dir)
		}
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if writeErr != nil {
		if !j.cancelled {
			j.state = remote.StatusFailed
		}
		m.mu.Unlock()
		m.logger.Error("remote job script rejected", "job_id", jobID, "error", writeErr)
		return writeErr
	}
	if j.cancelled {
		j.state = remote.StatusCancelled
		m.mu.Unlock()
		m.logger.Info("remote job cancelled before launch", "job_id", jobID)
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	j.exitCodePath = exitCodePath
	j.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx, j, scriptPath, working)

	m.logger.Info("remote job submitted", "job_id", jobID, "script", scriptPath)
	return nil
}

func (m *Manager) run(ctx context.Context, j *job, scriptPath, working string) {
	defer m.wg.Done()
	defer close(j.done)
	defer j.cancel()

	if m.slots != nil {
		select {
		case m.slots <- struct{}{}:
			defer func() { <-m.slots }()
		case <-ctx.Done():
			m.finish(j, nil, ctx.Err())
			return
		}
	}
	m.setState(j, remote.StatusRunning)

	stdout, err := os.Create(filepath.Join(j.dir, stdoutFile))
	if err != nil {
		m.finish(j, nil, err)
		return
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(j.dir, stderrFile))
	if err != nil {
		m.finish(j, nil, err)
		return
	}
	defer stderr.Close()

	start := time.Now()
	code, err := m.runner.Run(ctx, process.Command{
		Path:   scriptPath,
		Dir:    working,
		Stdout: stdout,
		Stderr: stderr,
	})
	m.logger.Debug("remote job exited", "job_id", j.id, "exit_code", code, "duration", time.Since(start))
	if err != nil {
		m.finish(j, nil, err)
		return
	}
	m.finish(j, &code, nil)
}

// finish records the outcome. The exit code file written by the script takes
// precedence over the process exit status.
func (m *Manager) finish(j *job, code *int, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case j.cancelled:
		j.state = remote.StatusCancelled
	case runErr != nil:
		j.state = remote.StatusFailed
		m.logger.Error("remote job failed to run", "job_id", j.id, "error", runErr)
	default:
		if j.exitCodePath != "" {
			if c, err := readExitCode(j.exitCodePath); err == nil {
				code = &c
			} else {
				m.logger.Warn("remote job exit code unreadable", "job_id", j.id, "path", j.exitCodePath, "error", err)
			}
		}
		j.returnCode = code
		j.state = remote.StatusComplete
	}
}

func (m *Manager) setState(j *job, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !j.cancelled {
		j.state = state
	}
}

func readExitCode(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// Status reports the job's state. Output is included once the job is complete.
func (m *Manager) Status(_ context.Context, jobID string) (remote.StatusResult, error) {
	j, err := m.lookup(jobID)
	if err != nil {
		return remote.StatusResult{}, err
	}

	m.mu.Lock()
	res := remote.StatusResult{JobID: j.id, Status: j.state}
	if j.returnCode != nil {
		code := *j.returnCode
		res.ReturnCode = &code
	}
	m.mu.Unlock()

	if IsTerminal(res.Status) {
		res.Complete = true
		res.Stdout = readTail(filepath.Join(j.dir, stdoutFile))
		res.Stderr = readTail(filepath.Join(j.dir, stderrFile))
	}
	return res, nil
}

func readTail(path string) string {
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
	data, _ := io.ReadAll(f)
	return string(data)
}

// Cancel interrupts a running job. A job that has not started yet will not
// start.
func (m *Manager) Cancel(_ context.Context, jobID string) error {
	j, err := m.lookup(jobID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if IsTerminal(j.state) {
		return nil
	}
	j.cancelled = true
	if j.state == remote.StatusSetup {
		j.state = remote.StatusCancelled
	}
	if j.cancel != nil {
		j.cancel()
	}
	m.logger.Info("remote job cancelled", "job_id", jobID)
	return nil
}

// Clean cancels the job if needed, waits for it to exit and removes its
// staging directory. Cleaning an unknown job removes nothing and succeeds.
func (m *Manager) Clean(ctx context.Context, jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}

	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()

	if ok {
		if err := m.Cancel(ctx, jobID); err != nil {
			return err
		}
		m.mu.Lock()
		started := j.cancel != nil
		m.mu.Unlock()
		if started {
			select {
			case <-j.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := os.RemoveAll(filepath.Join(m.root, jobID)); err != nil {
		return fmt.Errorf("jobs: clean %s: %w", jobID, err)
	}

	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
	m.logger.Debug("remote job cleaned", "job_id", jobID)
	return nil
}

func kindDir(res remote.SetupResult, kind remote.FileKind) (string, error) {
	switch kind {
	case remote.KindInput:
		return res.InputsDirectory, nil
	case remote.KindOutput:
		return res.OutputsDirectory, nil
	case remote.KindTool:
		return res.ToolsDirectory, nil
	case remote.KindConfig:
		return res.ConfigsDirectory, nil
	case remote.KindMetadata:
		return res.MetadataDirectory, nil
	case remote.KindUnstructured:
		return res.UnstructuredFilesDirectory, nil
	case remote.KindWorking:
		return res.WorkingDirectory, nil
	default:
		return "", fmt.Errorf("%w: unknown file type %q", core.ErrInvalidFileName, kind)
	}
}

// FilePath returns where a staged file of kind lives. name may contain
// subdirectories but cannot leave the staging directory.
func (m *Manager) FilePath(_ context.Context, jobID string, kind remote.FileKind, name string) (string, error) {
	j, err := m.lookup(jobID)
	if err != nil {
		return "", err
	}
	if err := security.ValidateFileName(name); err != nil {
		return "", err
	}
	dir, err := kindDir(m.layout(j), kind)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}

// StageFile copies r into the staging directory for kind.
func (m *Manager) StageFile(ctx context.Context, jobID string, kind remote.FileKind, name string, r io.Reader) (string, error) {
	p, err := m.FilePath(ctx, jobID, kind, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("jobs: stage %s: %w", name, err)
	}
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("jobs: stage %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("jobs: stage %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("jobs: stage %s: %w", name, err)
	}
	return p, nil
}

// Close cancels running jobs and waits for them to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, j := range m.jobs {
		if j.cancel != nil {
			j.cancelled = true
			j.cancel()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

// IsTerminal reports whether status is a final remote job state.
func IsTerminal(status string) bool {
	switch status {
	case remote.StatusComplete, remote.StatusFailed, remote.StatusCancelled:
		return true
	}
	return false
}
