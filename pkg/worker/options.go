package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/runner"
	"github.com/jdziat/simple-remote-jobs/pkg/schedule"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// Worker defaults.
const (
	DefaultConcurrency       = 4
	DefaultPollInterval      = time.Second
	DefaultHeartbeatInterval = time.Minute
	DefaultStaleLockTimeout  = 5 * time.Minute
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// StaleLockTimeout is how long past its lock expiry a running job is
	// left before it is requeued. Zero disables the reaper.
	StaleLockTimeout time.Duration
	ReaperSchedule   schedule.Schedule
	WorkerID         string
	Runner           runner.Runner
	Logger           *slog.Logger

	StorageRetry *RetryConfig
	DequeueRetry *RetryConfig
}

// Concurrency sets how many jobs run at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// PollInterval sets how often the worker looks for jobs.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// HeartbeatInterval sets how often a running job's lock is extended.
func HeartbeatInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	})
}

// StaleLocks sets when abandoned jobs are requeued and how often to check.
// A zero timeout disables the check.
func StaleLocks(timeout time.Duration, every schedule.Schedule) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StaleLockTimeout = timeout
		if every != nil {
			c.ReaperSchedule = every
		}
	})
}

// WorkerID sets the lock owner recorded on jobs this worker runs.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// WithRunner sets how jobs are executed.
func WithRunner(r runner.Runner) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Runner = r
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}

// WithStorageRetry sets the retry policy for storage writes.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithDequeueRetry sets the retry policy for dequeuing.
func WithDequeueRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DequeueRetry = &cfg
	})
}

// WithRetryAttempts sets how many times storage writes are attempted, keeping
// the default backoff.
func WithRetryAttempts(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = max(n, 1)
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes storage writes and dequeues single attempts.
func DisableRetry() WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		storage := DefaultRetryConfig()
		storage.MaxAttempts = 1
		dequeue := storage
		c.StorageRetry = &storage
		c.DequeueRetry = &dequeue
	})
}
