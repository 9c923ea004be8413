package runner

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jdziat/simple-remote-jobs/pkg/computeenv"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
)

// ScriptName is the job script's file name in the working directory.
const ScriptName = "tool_script.sh"

// Prepared is a job ready to execute in its compute environment.
type Prepared struct {
	// Command is the job's command line with paths rewritten.
	Command string
	// Script is the rendered job script.
	Script string
	// ExitCodePath is where the script records the command's exit code.
	ExitCodePath string
}

// Prepare rewrites the job's command line for env and renders its job
// script. Paths are rewritten longest first, so a dataset's extra files
// directory is never clobbered by the dataset path it starts with.
func Prepare(job *core.Job, env computeenv.ComputeEnvironment, jio computeenv.JobIO, settings Settings, opts ...jobscript.BuildOption) (Prepared, error) {
	command := rewriteCommand(job, env, jio)
	sep := env.Sep()
	exitCodePath := env.WorkingDirectory() + sep + fmt.Sprintf("galaxy_%s.ec", job.ID)

	params := jobscript.NewParams(env.WorkingDirectory(), command, exitCodePath)
	params.Shell = settings.Shell
	params.EnvSetupCommands = append([]string{
		"export HOME=" + shellQuote(env.HomeDirectory()),
		"export GALAXY_URL=" + shellQuote(env.GalaxyURL()),
	}, settings.EnvSetupCommands...)
	tmp := env.TmpDirectory()
	params.TmpDirCreationStatement = fmt.Sprintf("mkdir -p %s %s\nexport TMPDIR=%s",
		shellQuote(env.HomeDirectory()), shellQuote(tmp), shellQuote(tmp))

	script, err := jobscript.Build(params, opts...)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{Command: command, Script: script, ExitCodePath: exitCodePath}, nil
}

func rewriteCommand(job *core.Job, env computeenv.ComputeEnvironment, jio computeenv.JobIO) string {
	var pairs [][2]string
	add := func(local, remote string) {
		if local != "" && local != remote {
			pairs = append(pairs, [2]string{local, remote})
		}
	}

	for _, d := range job.Outputs() {
		add(d.FilePath(), env.OutputPathRewrite(d))
		add(computeenv.ExtraFilesPath(d.FilePath()), env.OutputExtraFilesRewrite(d))
	}
	for _, d := range job.Inputs() {
		add(d.FilePath(), env.InputPathRewrite(d))
		add(computeenv.ExtraFilesPath(d.FilePath()), env.InputExtraFilesRewrite(d))
	}
	if tools := jio.ToolDirectory(); tools != "" {
		prefix := strings.TrimSuffix(tools, string(os.PathSeparator)) + string(os.PathSeparator)
		for _, tok := range pathTokens(job.CommandLine) {
			if !strings.HasPrefix(tok, prefix) || !isRegularFile(tok) {
				continue
			}
			if remote, ok := env.UnstructuredPathRewrite(tok); ok {
				add(tok, remote)
			}
		}
	}
	add(jio.WorkingDirectory(), env.WorkingDirectory())

	if len(pairs) == 0 {
		return job.CommandLine
	}
	sort.SliceStable(pairs, func(i, j int) bool { return len(pairs[i][0]) > len(pairs[j][0]) })
	oldnew := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		oldnew = append(oldnew, p[0], p[1])
	}
	return strings.NewReplacer(oldnew...).Replace(job.CommandLine)
}

// pathTokens returns the whitespace separated words of a command line with
// quotes removed and "--opt=" prefixes dropped.
func pathTokens(cmd string) []string {
	var out []string
	for _, f := range strings.Fields(cmd) {
		f = strings.Trim(f, `"'`)
		if i := strings.LastIndexByte(f, '='); i >= 0 {
			f = f[i+1:]
		}
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
