package computeenv

import (
	"fmt"
	"strconv"
	"sync"
)

// RemoteLayout describes a job's staging directories on a remote execution
// host, as returned by the remote "setup" command.
type RemoteLayout struct {
	WorkingDirectory      string
	InputsDirectory       string
	OutputsDirectory      string
	MetadataDirectory     string
	ToolsDirectory        string
	UnstructuredDirectory string
	HomeDirectory         string
	TmpDirectory          string
	// Sep is the remote path separator; empty means "/".
	Sep string
}

// StagedFile pairs a controlling-host path with the remote path the job sees.
type StagedFile struct {
	Local  string
	Remote string
	// Name is the file name relative to its staging directory.
	Name string
}

// Remote is the compute environment of a job executing on a remote host.
// Rewrites place files in the layout's staging directories and are recorded
// so the runner knows what to upload before and download after the job.
type Remote struct {
	job    JobIO
	layout RemoteLayout

	mu           sync.Mutex
	rewrites     map[string]string
	names        map[string]bool
	inputs       []StagedFile
	outputs      []StagedFile
	metadata     []StagedFile
	unstructured []StagedFile
}

// NewRemote binds a remote environment to job and its remote layout.
func NewRemote(job JobIO, layout RemoteLayout) *Remote {
	if layout.Sep == "" {
		layout.Sep = "/"
	}
	return &Remote{
		job:      job,
		layout:   layout,
		rewrites: make(map[string]string),
		names:    make(map[string]bool),
	}
}

var _ ComputeEnvironment = (*Remote)(nil)

// stage returns the memoized remote path for local, recording it in list on
// first use under name, or under local's base name when name is empty.
// Base names shared by distinct local files get numbered names.
func (r *Remote) stage(kind string, list *[]StagedFile, dir, local, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := kind + "\x00" + local
	if remote, ok := r.rewrites[key]; ok {
		return remote
	}
	base := name
	if base == "" {
		base = basename(local)
	}
	name = base
	for n := 1; r.names[kind+"\x00"+name]; n++ {
		name = strconv.Itoa(n) + "_" + base
	}
	r.names[kind+"\x00"+name] = true
	remote := join(r.layout.Sep, dir, name)
	r.rewrites[key] = remote
	*list = append(*list, StagedFile{Local: local, Remote: remote, Name: name})
	return remote
}

// datasetName names a staged dataset after its id so names do not depend on
// rewrite order. Datasets without an id keep their base name.
func datasetName(d Dataset) string {
	if d.DatasetID() <= 0 {
		return ""
	}
	return fmt.Sprintf("galaxy_dataset_%d.dat", d.DatasetID())
}

func (r *Remote) InputPathRewrite(d Dataset) string {
	return r.stage("input", &r.inputs, r.layout.InputsDirectory, d.FilePath(), datasetName(d))
}

func (r *Remote) OutputPathRewrite(d Dataset) string {
	return r.stage("output", &r.outputs, r.layout.OutputsDirectory, d.FilePath(), datasetName(d))
}

func (r *Remote) InputExtraFilesRewrite(d Dataset) string {
	return ExtraFilesPath(r.InputPathRewrite(d))
}

func (r *Remote) OutputExtraFilesRewrite(d Dataset) string {
	return ExtraFilesPath(r.OutputPathRewrite(d))
}

func (r *Remote) InputMetadataRewrite(_ Dataset, metadataPath string) (string, bool) {
	if metadataPath == "" {
		return "", false
	}
	return r.stage("metadata", &r.metadata, r.layout.MetadataDirectory, metadataPath, ""), true
}

func (r *Remote) UnstructuredPathRewrite(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	return r.stage("unstructured", &r.unstructured, r.layout.UnstructuredDirectory, path, ""), true
}

func (r *Remote) WorkingDirectory() string { return r.layout.WorkingDirectory }

func (r *Remote) ConfigDirectory() string {
	return join(r.layout.Sep, r.layout.WorkingDirectory, ConfigsDirName)
}

func (r *Remote) ToolDirectory() string { return r.layout.ToolsDirectory }

func (r *Remote) NewFilePath() string { return r.layout.WorkingDirectory }

func (r *Remote) VersionPath() string {
	v := r.job.VersionPath()
	if v == "" {
		return ""
	}
	return join(r.layout.Sep, r.layout.WorkingDirectory, basename(v))
}

func (r *Remote) HomeDirectory() string {
	if r.layout.HomeDirectory != "" {
		return r.layout.HomeDirectory
	}
	return join(r.layout.Sep, r.layout.WorkingDirectory, HomeDirName)
}

func (r *Remote) TmpDirectory() string {
	if r.layout.TmpDirectory != "" {
		return r.layout.TmpDirectory
	}
	return join(r.layout.Sep, r.layout.WorkingDirectory, TmpDirName)
}

func (r *Remote) GalaxyURL() string { return r.job.GalaxyURL() }

func (r *Remote) Sep() string { return r.layout.Sep }

func (r *Remote) FileSourcesDict() map[string]any { return r.job.FileSources() }

// StagedInputs returns input datasets to upload, in first-rewrite order.
func (r *Remote) StagedInputs() []StagedFile { return r.snapshot(&r.inputs) }

// StagedOutputs returns output datasets to download after the job.
func (r *Remote) StagedOutputs() []StagedFile { return r.snapshot(&r.outputs) }

// StagedMetadata returns metadata files to upload.
func (r *Remote) StagedMetadata() []StagedFile { return r.snapshot(&r.metadata) }

// StagedUnstructured returns tool and config files to upload.
func (r *Remote) StagedUnstructured() []StagedFile { return r.snapshot(&r.unstructured) }

func (r *Remote) snapshot(list *[]StagedFile) []StagedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StagedFile(nil), *list...)
}
