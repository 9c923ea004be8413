package runner

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-remote-jobs/pkg/computeenv"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

func remoteLayout() computeenv.RemoteLayout {
	return computeenv.RemoteLayout{
		WorkingDirectory:      "/staging/j1/working",
		InputsDirectory:       "/staging/j1/inputs",
		OutputsDirectory:      "/staging/j1/outputs",
		MetadataDirectory:     "/staging/j1/metadata",
		ToolsDirectory:        "/staging/j1/tool_files",
		UnstructuredDirectory: "/staging/j1/unstructured",
		HomeDirectory:         "/staging/j1/home",
		TmpDirectory:          "/staging/j1/tmp",
	}
}

func TestPrepare_SharedKeepsPaths(t *testing.T) {
	settings := testSettings(t)
	job := catJob(t, "j1")
	jio := NewJobIO(job, settings)

	p, err := Prepare(job, computeenv.NewShared(jio), jio, settings)
	require.NoError(t, err)

	assert.Equal(t, job.CommandLine, p.Command)
	assert.Equal(t, filepath.Join(settings.JobsDirectory, "j1", "galaxy_j1.ec"), p.ExitCodePath)
	assert.True(t, strings.HasPrefix(p.Script, "#!/bin/sh\n"))
	assert.Contains(t, p.Script, "\n"+job.CommandLine+"\n")
	assert.Contains(t, p.Script, "export GALAXY_URL='http://localhost:8080'")
	assert.Contains(t, p.Script, "echo $? > "+p.ExitCodePath)
}

func TestPrepare_OutputsToWorkingDirectory(t *testing.T) {
	settings := testSettings(t)
	settings.OutputsToWorkingDirectory = true
	job := catJob(t, "j1")
	jio := NewJobIO(job, settings)

	p, err := Prepare(job, computeenv.NewShared(jio), jio, settings)
	require.NoError(t, err)

	want := filepath.Join(settings.JobsDirectory, "j1", "outputs", "galaxy_dataset_2.dat")
	assert.Contains(t, p.Command, "> "+want)
	assert.Contains(t, p.Command, job.Datasets[0].Path)
}

func TestPrepare_RemoteRewritesAndStages(t *testing.T) {
	settings := testSettings(t)
	tool := writeFile(t, filepath.Join(settings.ToolDirectory, "cat.py"), "print()")
	job := &core.Job{
		ID:     "j1",
		ToolID: "cat1",
		CommandLine: "python " + tool + " --in=/data/d_1.dat --extra /data/d_1_files" +
			" --out '/data/d_2.dat' " + filepath.Join(settings.ToolDirectory, "missing.py"),
		Datasets: []core.JobDataset{
			{ID: 1, Name: "input1", Path: "/data/d_1.dat"},
			{ID: 2, Name: "out_file1", Path: "/data/d_2.dat", IsOutput: true},
		},
	}
	jio := NewJobIO(job, settings)
	env := computeenv.NewRemote(jio, remoteLayout())

	p, err := Prepare(job, env, jio, settings)
	require.NoError(t, err)

	assert.Equal(t, "python /staging/j1/unstructured/cat.py --in=/staging/j1/inputs/galaxy_dataset_1.dat"+
		" --extra /staging/j1/inputs/galaxy_dataset_1_files --out '/staging/j1/outputs/galaxy_dataset_2.dat' "+
		filepath.Join(settings.ToolDirectory, "missing.py"), p.Command)
	assert.Equal(t, "/staging/j1/working/galaxy_j1.ec", p.ExitCodePath)
	assert.Contains(t, p.Script, "cd /staging/j1/working\n")
	assert.Contains(t, p.Script, "export HOME='/staging/j1/home'")

	require.Len(t, env.StagedInputs(), 1)
	assert.Equal(t, "galaxy_dataset_1.dat", env.StagedInputs()[0].Name)
	require.Len(t, env.StagedOutputs(), 1)
	assert.Equal(t, "/data/d_2.dat", env.StagedOutputs()[0].Local)
	require.Len(t, env.StagedUnstructured(), 1)
	assert.Equal(t, tool, env.StagedUnstructured()[0].Local)
}

func TestPrepare_MissingCommand(t *testing.T) {
	settings := testSettings(t)
	job := &core.Job{ID: "j1", ToolID: "cat1"}
	jio := NewJobIO(job, settings)

	_, err := Prepare(job, computeenv.NewShared(jio), jio, settings)
	assert.ErrorIs(t, err, core.ErrMissingParameter)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/a b'", shellQuote("/a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestPathTokens(t *testing.T) {
	assert.Equal(t, []string{"cat", "/a", "/b", "/c"}, pathTokens(`cat "/a" --x=/b '/c'`))
}
