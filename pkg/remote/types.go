package remote

import (
	"context"
	"io"

	"github.com/jdziat/simple-remote-jobs/pkg/computeenv"
)

// Args are a command's named arguments. They fill path placeholders and are
// sent as the query string.
type Args map[string]string

// FileKind selects a job staging directory.
type FileKind string

const (
	KindInput        FileKind = "input"
	KindOutput       FileKind = "output"
	KindTool         FileKind = "tool"
	KindConfig       FileKind = "config"
	KindMetadata     FileKind = "metadata"
	KindUnstructured FileKind = "unstructured"
	KindWorking      FileKind = "working"
)

// Remote job states reported by status.
const (
	StatusSetup     = "setup"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// SetupResult is the staging layout created by setup.
type SetupResult struct {
	JobID                      string           `json:"job_id"`
	WorkingDirectory           string           `json:"working_directory"`
	InputsDirectory            string           `json:"inputs_directory"`
	OutputsDirectory           string           `json:"outputs_directory"`
	ConfigsDirectory           string           `json:"configs_directory"`
	MetadataDirectory          string           `json:"metadata_directory"`
	ToolsDirectory             string           `json:"tools_directory"`
	UnstructuredFilesDirectory string           `json:"unstructured_files_directory"`
	HomeDirectory              string           `json:"home_directory"`
	TmpDirectory               string           `json:"tmp_directory"`
	SystemProperties           SystemProperties `json:"system_properties"`
}

// SystemProperties describe the remote host.
type SystemProperties struct {
	Separator string `json:"separator"`
}

// Layout converts the result for a remote compute environment.
func (r SetupResult) Layout() computeenv.RemoteLayout {
	return computeenv.RemoteLayout{
		WorkingDirectory:      r.WorkingDirectory,
		InputsDirectory:       r.InputsDirectory,
		OutputsDirectory:      r.OutputsDirectory,
		MetadataDirectory:     r.MetadataDirectory,
		ToolsDirectory:        r.ToolsDirectory,
		UnstructuredDirectory: r.UnstructuredFilesDirectory,
		HomeDirectory:         r.HomeDirectory,
		TmpDirectory:          r.TmpDirectory,
		Sep:                   r.SystemProperties.Separator,
	}
}

// LaunchConfig is the body of submit.
type LaunchConfig struct {
	// JobScript is the complete rendered job script.
	JobScript string `json:"job_script"`
	// ScriptName is written in the working directory. Defaults to
	// "tool_script.sh".
	ScriptName string `json:"script_name,omitempty"`
	// ExitCodePath is the file the script records the command's exit code in.
	ExitCodePath string `json:"exit_code_path,omitempty"`
}

// StatusResult reports a remote job's state.
type StatusResult struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Complete   bool   `json:"complete"`
	ReturnCode *int   `json:"returncode,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// PathResult is the result of upload_file and path.
type PathResult struct {
	Path string `json:"path"`
}

// Ack is the result of commands without a payload.
type Ack struct {
	JobID string `json:"job_id,omitempty"`
	OK    bool   `json:"ok"`
}

// CacheStatus is the result of file_available.
type CacheStatus struct {
	Token string `json:"token"`
	Ready bool   `json:"ready"`
}

// JobManager runs jobs on the remote host.
type JobManager interface {
	Setup(ctx context.Context, jobID string, toolID string) (SetupResult, error)
	Submit(ctx context.Context, jobID string, launch LaunchConfig) error
	Status(ctx context.Context, jobID string) (StatusResult, error)
	Cancel(ctx context.Context, jobID string) error
	Clean(ctx context.Context, jobID string) error
	// StageFile writes r into the staging directory for kind and returns the
	// remote path.
	StageFile(ctx context.Context, jobID string, kind FileKind, name string, r io.Reader) (string, error)
	// FilePath returns the remote path of a staged file, which need not exist.
	FilePath(ctx context.Context, jobID string, kind FileKind, name string) (string, error)
}

// FileCache shares input files between jobs on the remote host, keyed by the
// submitting host and its local path.
type FileCache interface {
	FileAvailable(ctx context.Context, ip string, path string) (CacheStatus, error)
	// CacheRequired marks the file as wanted and reports whether the caller
	// should insert it.
	CacheRequired(ctx context.Context, ip string, path string) (bool, error)
	CacheInsert(ctx context.Context, ip string, path string, r io.Reader) error
	// Open returns the cached file for a token from FileAvailable.
	Open(ctx context.Context, token string) (io.ReadCloser, error)
}

// ObjectStore is the backend proxied by the object_store_* commands.
type ObjectStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	FileReady(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
	// GetData reads count bytes from start; count < 0 reads to the end.
	GetData(ctx context.Context, id string, start int64, count int64) ([]byte, error)
	GetFilename(ctx context.Context, id string) (string, error)
	UpdateFromFile(ctx context.Context, id string, r io.Reader) error
	Size(ctx context.Context, id string) (int64, error)
	Empty(ctx context.Context, id string) (bool, error)
	UsagePercent(ctx context.Context) (float64, error)
}
