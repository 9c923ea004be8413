package computeenv

import (
	"strings"
)

// Dataset is the read-only view of a dataset a compute environment needs.
type Dataset interface {
	DatasetID() int64
	FilePath() string
	HistoryID() int
}

// JobIO is the read-only view of a job's directories on the controlling host.
// Empty HomeDirectory and TmpDirectory mean "derive from the working
// directory".
type JobIO interface {
	JobID() string
	ToolID() string
	WorkingDirectory() string
	ToolDirectory() string
	NewFilePath() string
	VersionPath() string
	HomeDirectory() string
	TmpDirectory() string
	GalaxyURL() string
	OutputsToWorkingDirectory() bool
	FileSources() map[string]any
}

// ComputeEnvironment rewrites job paths for the host the job executes on.
// Every method is a function of the job and its arguments: asking twice
// returns the same path.
type ComputeEnvironment interface {
	InputPathRewrite(d Dataset) string
	OutputPathRewrite(d Dataset) string
	InputExtraFilesRewrite(d Dataset) string
	OutputExtraFilesRewrite(d Dataset) string
	// InputMetadataRewrite returns the path of a metadata file, or false
	// when the controlling path is used unchanged.
	InputMetadataRewrite(d Dataset, metadataPath string) (string, bool)
	// UnstructuredPathRewrite returns the path of a tool or config file
	// referenced by the command line, or false when it is used unchanged.
	UnstructuredPathRewrite(path string) (string, bool)

	WorkingDirectory() string
	ConfigDirectory() string
	ToolDirectory() string
	NewFilePath() string
	VersionPath() string
	HomeDirectory() string
	TmpDirectory() string
	GalaxyURL() string
	Sep() string
	FileSourcesDict() map[string]any
}

// ExtraFilesPath derives a dataset's auxiliary files directory from its main
// path: a trailing ".dat" is removed and "_files" appended.
func ExtraFilesPath(path string) string {
	return strings.TrimSuffix(path, ".dat") + "_files"
}

// Directory names below a job's working directory.
const (
	ConfigsDirName = "configs"
	OutputsDirName = "outputs"
	HomeDirName    = "home"
	TmpDirName     = "tmp"
)

// join joins with a fixed separator so remote layouts are independent of the
// local OS.
func join(sep string, dir string, elems ...string) string {
	out := strings.TrimSuffix(dir, sep)
	for _, e := range elems {
		out += sep + strings.TrimPrefix(e, sep)
	}
	return out
}

// basename returns the last element of a local path.
func basename(path string) string {
	path = strings.TrimRight(path, "/\\")
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		return path[i+1:]
	}
	return path
}
