package runner

import (
	"path/filepath"

	"github.com/jdziat/simple-remote-jobs/pkg/computeenv"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// VersionFile is written in the working directory by tools that report their
// version.
const VersionFile = "COMMAND_VERSION"

// Settings describe the controlling host's layout and how job scripts are
// rendered.
type Settings struct {
	// JobsDirectory holds one working directory per job, named by job id.
	JobsDirectory string
	// ToolDirectory is where tool files live. Command line arguments below
	// it are staged for remote jobs.
	ToolDirectory             string
	NewFilePath               string
	GalaxyURL                 string
	OutputsToWorkingDirectory bool
	FileSources               map[string]any

	Shell            string
	EnvSetupCommands []string
}

// JobIO exposes a stored job and the controlling host's settings as
// computeenv.JobIO.
type JobIO struct {
	job      *core.Job
	settings Settings
}

var _ computeenv.JobIO = (*JobIO)(nil)

// NewJobIO binds settings to job.
func NewJobIO(job *core.Job, settings Settings) *JobIO {
	return &JobIO{job: job, settings: settings}
}

func (j *JobIO) JobID() string  { return j.job.ID }
func (j *JobIO) ToolID() string { return j.job.ToolID }

func (j *JobIO) WorkingDirectory() string {
	return filepath.Join(j.settings.JobsDirectory, j.job.ID)
}

func (j *JobIO) ToolDirectory() string { return j.settings.ToolDirectory }

func (j *JobIO) NewFilePath() string {
	if j.settings.NewFilePath != "" {
		return j.settings.NewFilePath
	}
	return j.WorkingDirectory()
}

func (j *JobIO) VersionPath() string {
	return filepath.Join(j.WorkingDirectory(), VersionFile)
}

func (j *JobIO) HomeDirectory() string { return "" }
func (j *JobIO) TmpDirectory() string  { return "" }
func (j *JobIO) GalaxyURL() string     { return j.settings.GalaxyURL }

func (j *JobIO) OutputsToWorkingDirectory() bool {
	return j.settings.OutputsToWorkingDirectory
}

func (j *JobIO) FileSources() map[string]any { return j.settings.FileSources }
