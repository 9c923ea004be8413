package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/process"
)

type recorder struct {
	mu         sync.Mutex
	dirs       []string
	externalID string
}

func (r *recorder) WorkingDirectory(_ context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, dir)
	return nil
}

func (r *recorder) ExternalID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.externalID = id
	return nil
}

func testVerifier() jobscript.WriteOption {
	return jobscript.WithVerifier(&jobscript.Verifier{
		Count:  3,
		Runner: process.ExecRunner{},
		Syncer: func(context.Context) error { return nil },
	})
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		JobsDirectory: filepath.Join(t.TempDir(), "jobs"),
		ToolDirectory: filepath.Join(t.TempDir(), "tools"),
		GalaxyURL:     "http://localhost:8080",
		Shell:         "/bin/sh",
	}
}

func writeFile(t *testing.T, path, data string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

// catJob copies one input to one output.
func catJob(t *testing.T, id string) *core.Job {
	t.Helper()
	data := t.TempDir()
	in := writeFile(t, filepath.Join(data, "dataset_1.dat"), "hello\n")
	out := filepath.Join(data, "dataset_2.dat")
	return &core.Job{
		ID:          id,
		ToolID:      "cat1",
		CommandLine: "cat " + in + " > " + out,
		Datasets: []core.JobDataset{
			{ID: 1, Name: "input1", Path: in, Hid: 1},
			{ID: 2, Name: "out_file1", Path: out, Hid: 2, IsOutput: true},
		},
	}
}
