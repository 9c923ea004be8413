package jobscript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-remote-jobs/pkg/process"
)

func TestCoreInstrumenter_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	p := NewParams(dir, "true", filepath.Join(dir, "ec"))
	p.Shell = "/bin/sh"
	p.SlotsStatement = `GALAXY_SLOTS="3"`
	p.MemoryStatement = `GALAXY_MEMORY_MB="2048"`

	script, err := Build(p, WithInstrumenter(CoreInstrumenter{}))
	require.NoError(t, err)

	path := filepath.Join(dir, "tool_script.sh")
	_, err = Write(context.Background(), path, script, WithoutIntegrityCheck())
	require.NoError(t, err)

	code, err := process.ExecRunner{}.Run(context.Background(), process.Command{Path: path})
	require.NoError(t, err)
	require.Equal(t, 0, code)

	m, err := ReadCoreMetrics(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Slots)
	assert.Equal(t, 2048, m.MemoryMB)
	assert.False(t, m.Start.IsZero())
	assert.False(t, m.End.Before(m.Start))
	assert.GreaterOrEqual(t, m.Runtime(), time.Duration(0))
}

func TestReadCoreMetrics_Missing(t *testing.T) {
	m, err := ReadCoreMetrics(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, m.Slots)
	assert.True(t, m.Start.IsZero())
	assert.Zero(t, m.Runtime())
}

func TestReadCoreMetrics_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, coreSlotsFile), []byte("many\n"), 0o644))

	_, err := ReadCoreMetrics(dir)
	assert.Error(t, err)
}

func TestReadCoreMetrics_Runtime(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, coreEpochStartFile), []byte("1700000000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, coreEpochEndFile), []byte("1700000090\n"), 0o644))

	m, err := ReadCoreMetrics(dir)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, m.Runtime())
}
