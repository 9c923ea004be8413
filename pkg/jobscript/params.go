package jobscript

import (
	"embed"
	"strings"
)

//go:embed templates
var templateFS embed.FS

// Marker environment variable and exit code of the integrity guard.
const (
	IntegrityEnvVar   = "ABC_TEST_JOB_SCRIPT_INTEGRITY_XYZ"
	IntegrityExitCode = 42
)

// DefaultShell interprets job scripts unless Params.Shell is set.
const DefaultShell = "/bin/bash"

var (
	// DefaultTemplate is the job script layout used by Build.
	DefaultTemplate = mustAsset("default_job_file.sh.tmpl")

	// DefaultSlotsStatement sets GALAXY_SLOTS from the batch system's
	// allocation, falling back to 1.
	DefaultSlotsStatement = mustAsset("slots.sh")

	// DefaultMemoryStatement sets GALAXY_MEMORY_MB from the batch system's
	// allocation when it is known.
	DefaultMemoryStatement = mustAsset("memory.sh")

	// DefaultIntegrityInjection exits with IntegrityExitCode when
	// IntegrityEnvVar is set.
	DefaultIntegrityInjection = mustAsset("integrity.sh")
)

func mustAsset(name string) string {
	b, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		panic(err)
	}
	return strings.TrimRight(string(b), "\n")
}

// Params are the values rendered into a job script.
//
// WorkingDirectory, Command and ExitCodePath are required. Empty optional
// fields take their defaults in Build; Extra supplies values for custom
// templates, where missing keys render as empty strings.
type Params struct {
	WorkingDirectory string
	Command          string
	ExitCodePath     string

	Shell                   string
	Headers                 string
	EnvSetupCommands        []string
	SlotsStatement          string
	MemoryStatement         string
	IntegrityInjection      string
	TmpDirCreationStatement string
	InstrumentPreCommands   string
	InstrumentPostCommands  string

	Extra map[string]string
}

// NewParams returns Params with the required fields set.
func NewParams(workingDirectory, command, exitCodePath string) Params {
	return Params{
		WorkingDirectory: workingDirectory,
		Command:          command,
		ExitCodePath:     exitCodePath,
	}
}

// withDefaults fills empty optional fields.
func (p Params) withDefaults() Params {
	if p.Shell == "" {
		p.Shell = DefaultShell
	}
	if p.SlotsStatement == "" {
		p.SlotsStatement = DefaultSlotsStatement
	}
	if p.MemoryStatement == "" {
		p.MemoryStatement = DefaultMemoryStatement
	}
	if p.IntegrityInjection == "" {
		p.IntegrityInjection = DefaultIntegrityInjection
	}
	return p
}

// templateData is what templates see. EnvSetupCommands is joined with
// newlines.
type templateData struct {
	WorkingDirectory        string
	Command                 string
	ExitCodePath            string
	Shell                   string
	Headers                 string
	EnvSetupCommands        string
	SlotsStatement          string
	MemoryStatement         string
	IntegrityInjection      string
	TmpDirCreationStatement string
	InstrumentPreCommands   string
	InstrumentPostCommands  string
	Extra                   map[string]string
}
