package worker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-remote-jobs/pkg/runner"
	"github.com/jdziat/simple-remote-jobs/pkg/schedule"
)

func TestConcurrency_AppliesCorrectly(t *testing.T) {
	config := WorkerConfig{Concurrency: 1}

	Concurrency(5).ApplyWorker(&config)

	assert.Equal(t, 5, config.Concurrency)
}

func TestConcurrency_Clamped(t *testing.T) {
	config := WorkerConfig{}

	// MaxConcurrency is 1000
	Concurrency(5000).ApplyWorker(&config)
	assert.Equal(t, 1000, config.Concurrency)

	Concurrency(0).ApplyWorker(&config)
	assert.Equal(t, 1, config.Concurrency)
}

func TestIntervals_IgnoreNonPositive(t *testing.T) {
	config := WorkerConfig{PollInterval: time.Second, HeartbeatInterval: time.Minute}

	PollInterval(0).ApplyWorker(&config)
	HeartbeatInterval(-time.Second).ApplyWorker(&config)
	assert.Equal(t, time.Second, config.PollInterval)
	assert.Equal(t, time.Minute, config.HeartbeatInterval)

	PollInterval(50 * time.Millisecond).ApplyWorker(&config)
	HeartbeatInterval(10 * time.Second).ApplyWorker(&config)
	assert.Equal(t, 50*time.Millisecond, config.PollInterval)
	assert.Equal(t, 10*time.Second, config.HeartbeatInterval)
}

func TestStaleLocks_Option(t *testing.T) {
	every := schedule.Every(time.Second)
	config := WorkerConfig{}

	StaleLocks(time.Minute, every).ApplyWorker(&config)
	assert.Equal(t, time.Minute, config.StaleLockTimeout)
	assert.Same(t, every, config.ReaperSchedule)

	StaleLocks(0, nil).ApplyWorker(&config)
	assert.Zero(t, config.StaleLockTimeout)
	assert.Same(t, every, config.ReaperSchedule)
}

func TestWorkerID_IgnoresEmpty(t *testing.T) {
	config := WorkerConfig{WorkerID: "generated"}

	WorkerID("").ApplyWorker(&config)
	assert.Equal(t, "generated", config.WorkerID)

	WorkerID("h0-main").ApplyWorker(&config)
	assert.Equal(t, "h0-main", config.WorkerID)
}

func TestWithRunnerAndLogger(t *testing.T) {
	config := WorkerConfig{}
	r := runner.NewLocalRunner(runner.Settings{})
	l := slog.Default()

	WithRunner(r).ApplyWorker(&config)
	WithLogger(l).ApplyWorker(&config)

	assert.Same(t, r, config.Runner)
	assert.Same(t, l, config.Logger)
}

func TestWorkerOptionFunc_ImplementsInterface(t *testing.T) {
	var opt WorkerOption = workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = "custom-id"
	})

	config := WorkerConfig{}
	opt.ApplyWorker(&config)

	require.Equal(t, "custom-id", config.WorkerID)
}

func TestRetryOptions(t *testing.T) {
	custom := RetryConfig{MaxAttempts: 10, InitialBackoff: 200 * time.Millisecond}

	tests := []struct {
		name             string
		opt              WorkerOption
		storageAttempts  int
		dequeueAttempts  int
		storageBackoff   time.Duration
		dequeueUntouched bool
	}{
		{"storage retry", WithStorageRetry(custom), 10, 0, 200 * time.Millisecond, true},
		{"retry attempts keep default backoff", WithRetryAttempts(7), 7, 0, 100 * time.Millisecond, true},
		{"disable retry", DisableRetry(), 1, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg WorkerConfig
			tt.opt.ApplyWorker(&cfg)

			require.NotNil(t, cfg.StorageRetry)
			assert.Equal(t, tt.storageAttempts, cfg.StorageRetry.MaxAttempts)
			if tt.storageBackoff > 0 {
				assert.Equal(t, tt.storageBackoff, cfg.StorageRetry.InitialBackoff)
			}
			if tt.dequeueUntouched {
				assert.Nil(t, cfg.DequeueRetry)
				return
			}
			require.NotNil(t, cfg.DequeueRetry)
			assert.Equal(t, tt.dequeueAttempts, cfg.DequeueRetry.MaxAttempts)
		})
	}

	var cfg WorkerConfig
	WithDequeueRetry(RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second}).ApplyWorker(&cfg)
	require.NotNil(t, cfg.DequeueRetry)
	assert.Equal(t, 3, cfg.DequeueRetry.MaxAttempts)
	assert.Nil(t, cfg.StorageRetry)
}
