package computeenv

import (
	"fmt"
	"os"
)

// Shared is the compute environment of a job that runs on a filesystem shared
// with the controlling host. Datasets keep their physical paths unless outputs
// are directed into the working directory.
type Shared struct {
	job JobIO
	sep string
}

// NewShared binds a shared-filesystem environment to job.
func NewShared(job JobIO) *Shared {
	return &Shared{job: job, sep: string(os.PathSeparator)}
}

var _ ComputeEnvironment = (*Shared)(nil)

func (s *Shared) InputPathRewrite(d Dataset) string {
	return d.FilePath()
}

func (s *Shared) OutputPathRewrite(d Dataset) string {
	if s.job.OutputsToWorkingDirectory() {
		return join(s.sep, s.job.WorkingDirectory(), OutputsDirName, fmt.Sprintf("galaxy_dataset_%d.dat", d.DatasetID()))
	}
	return d.FilePath()
}

func (s *Shared) InputExtraFilesRewrite(d Dataset) string {
	return ExtraFilesPath(s.InputPathRewrite(d))
}

func (s *Shared) OutputExtraFilesRewrite(d Dataset) string {
	return ExtraFilesPath(s.OutputPathRewrite(d))
}

func (s *Shared) InputMetadataRewrite(Dataset, string) (string, bool) {
	return "", false
}

func (s *Shared) UnstructuredPathRewrite(string) (string, bool) {
	return "", false
}

func (s *Shared) WorkingDirectory() string { return s.job.WorkingDirectory() }

func (s *Shared) ConfigDirectory() string {
	return join(s.sep, s.job.WorkingDirectory(), ConfigsDirName)
}

func (s *Shared) ToolDirectory() string { return s.job.ToolDirectory() }

func (s *Shared) NewFilePath() string { return s.job.NewFilePath() }

func (s *Shared) VersionPath() string { return s.job.VersionPath() }

func (s *Shared) HomeDirectory() string {
	if h := s.job.HomeDirectory(); h != "" {
		return h
	}
	return join(s.sep, s.job.WorkingDirectory(), HomeDirName)
}

func (s *Shared) TmpDirectory() string {
	if t := s.job.TmpDirectory(); t != "" {
		return t
	}
	return join(s.sep, s.job.WorkingDirectory(), TmpDirName)
}

func (s *Shared) GalaxyURL() string { return s.job.GalaxyURL() }

func (s *Shared) Sep() string { return s.sep }

func (s *Shared) FileSourcesDict() map[string]any { return s.job.FileSources() }
