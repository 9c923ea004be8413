package jobs_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobs "github.com/jdziat/simple-remote-jobs"
	"github.com/jdziat/simple-remote-jobs/pkg/config"
)

const testConfig = `<?xml version="1.0"?>
<job_conf>
    <handlers default="handlers" assign_with="db-skip-locked">
        <handler id="handler0" tags="handlers"/>
        <handler id="handler1" tags="handlers"/>
    </handlers>
    <destinations default="local">
        <destination id="local" runner="local"/>
    </destinations>
</job_conf>
`

func setupQueue(t *testing.T) (*jobs.Queue, *jobs.Config, jobs.Storage) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig), config.FormatXML)
	require.NoError(t, err)
	registry, err := jobs.RegistryFromConfig(cfg.Handlers)
	require.NoError(t, err)

	db, err := jobs.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	store := jobs.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	return jobs.New(store, registry), cfg, store
}

func TestFacade_EnqueueBindsToDefaultTag(t *testing.T) {
	q, _, store := setupQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "cat1", "cat /data/1.dat > /data/2.dat",
		jobs.Input("input1", "/data/1.dat", 1),
		jobs.Output("out_file1", "/data/2.dat", 2),
		jobs.Retries(2))
	require.NoError(t, err)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "handlers", job.Handler)
	assert.Equal(t, jobs.StateNew, job.State)
	assert.Equal(t, 2, job.MaxRetries)
	assert.Len(t, job.Datasets, 2)
}

func TestFacade_OptionsReturnNonNil(t *testing.T) {
	assert.NotNil(t, jobs.Handler("handler0"))
	assert.NotNil(t, jobs.Destination("local"))
	assert.NotNil(t, jobs.Retries(3))
	assert.NotNil(t, jobs.Delay(time.Second))
	assert.NotNil(t, jobs.At(time.Now()))
	assert.NotNil(t, jobs.Concurrency(2))
	assert.NotNil(t, jobs.Every(time.Minute))
	assert.NotNil(t, jobs.Cron("@daily"))
}

func TestFacade_WorkerRunsJob(t *testing.T) {
	q, cfg, store := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data := t.TempDir()
	out := filepath.Join(data, "out.txt")
	id, err := q.Enqueue(ctx, "echo", "echo hi > "+out, jobs.Output("out_file1", out, 1))
	require.NoError(t, err)

	settings := jobs.RunnerSettings{JobsDirectory: filepath.Join(data, "jobs"), Shell: "/bin/sh"}
	w := q.NewWorker("handler0",
		jobs.WithRunner(jobs.NewDispatcher(cfg.Destinations, settings, nil)),
		jobs.Concurrency(1))

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		return err == nil && job.State == jobs.StateOK
	}, 30*time.Second, 50*time.Millisecond)
	assert.FileExists(t, out)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFacade_RetryHelpers(t *testing.T) {
	base := errors.New("boom")

	var noRetry *jobs.NoRetryError
	assert.True(t, errors.As(jobs.NoRetry(base), &noRetry))

	var retryAfter *jobs.RetryAfterError
	require.True(t, errors.As(jobs.RetryAfter(time.Second, base), &retryAfter))
	assert.Equal(t, time.Second, retryAfter.Delay)
}

func TestFacade_SanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", jobs.SanitizeErrorMessage("bad\x00"))
}

func TestFacade_NewWorker(t *testing.T) {
	q, _, _ := setupQueue(t)
	w := jobs.NewWorker(q, "handler1")
	assert.Equal(t, "handler1", w.HandlerID())
}
