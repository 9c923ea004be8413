// Package jobs dispatches tool jobs to handler processes and runs them
// locally or on remote execution hosts.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	cfg, _ := jobs.LoadConfig("job_conf.xml")
//	registry, _ := jobs.RegistryFromConfig(cfg.Handlers)
//	db, _ := jobs.Open("jobs.db")
//	store := jobs.NewGormStorage(db)
//	store.Migrate(ctx)
//	queue := jobs.New(store, registry)
//
//	// Enqueue a job for the default handler tag
//	queue.Enqueue(ctx, "cat1", "cat /data/1.dat > /data/2.dat",
//	    jobs.Input("input1", "/data/1.dat", 1),
//	    jobs.Output("out_file1", "/data/2.dat", 2))
//
//	// Run a handler process
//	runner := jobs.NewDispatcher(cfg.Destinations, settings, nil)
//	worker := queue.NewWorker("handler0", jobs.WithRunner(runner))
//	worker.Start(ctx)
package jobs

import (
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/handlers"
	"github.com/jdziat/simple-remote-jobs/pkg/queue"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
	"github.com/jdziat/simple-remote-jobs/pkg/runner"
	"github.com/jdziat/simple-remote-jobs/pkg/schedule"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
	"github.com/jdziat/simple-remote-jobs/pkg/storage"
	"github.com/jdziat/simple-remote-jobs/pkg/worker"
)

func init() {
	// Register the worker factory to enable queue.NewWorker()
	queue.WorkerFactory = func(q *queue.Queue, handlerID string, opts ...any) core.Starter {
		workerOpts := make([]worker.WorkerOption, 0, len(opts))
		for _, opt := range opts {
			if wo, ok := opt.(worker.WorkerOption); ok {
				workerOpts = append(workerOpts, wo)
			}
		}
		return worker.NewWorker(q, handlerID, workerOpts...)
	}
}

type (
	// Job is a tool execution dispatched to a handler.
	Job = core.Job

	// JobDataset is an input or output dataset attached to a job.
	JobDataset = core.JobDataset

	// JobState represents the current state of a job.
	JobState = core.JobState

	// Storage defines the persistence layer for jobs.
	Storage = core.Storage

	// Event is the interface for all queue events.
	Event = core.Event

	// JobEnqueued is emitted when a job is created.
	JobEnqueued = core.JobEnqueued

	// JobClaimed is emitted when a handler claims tagged jobs.
	JobClaimed = core.JobClaimed

	// JobStarted is emitted when a job starts processing.
	JobStarted = core.JobStarted

	// JobCompleted is emitted when a job finishes with exit code zero.
	JobCompleted = core.JobCompleted

	// JobFailed is emitted when a job fails permanently.
	JobFailed = core.JobFailed

	// JobRetrying is emitted when a job is retried.
	JobRetrying = core.JobRetrying

	// JobCancelled is emitted when a job is cancelled.
	JobCancelled = core.JobCancelled

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// Queue creates jobs and binds them to handlers.
	Queue = queue.Queue

	// Option modifies Options.
	Option = queue.Option

	// Options holds configuration for job enqueueing.
	Options = queue.Options

	// Registry maps handler ids and tags to pools of handlers.
	Registry = handlers.Registry

	// AssignMethod selects how new jobs are bound to handlers.
	AssignMethod = handlers.AssignMethod

	// Config is the parsed job configuration document.
	Config = config.JobConfig

	// Worker is a handler process.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// WorkerConfig holds worker configuration.
	WorkerConfig = worker.WorkerConfig

	// Runner prepares and executes one job.
	Runner = runner.Runner

	// RunnerOption configures runners.
	RunnerOption = runner.Option

	// RunnerSettings describe the handler host's layout.
	RunnerSettings = runner.Settings

	// Dispatcher routes jobs to the runner of their destination.
	Dispatcher = runner.Dispatcher

	// Schedule defines when a recurring task runs next.
	Schedule = schedule.Schedule

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage
)

// Job states
const (
	StateNew     = core.StateNew
	StateQueued  = core.StateQueued
	StateRunning = core.StateRunning
	StateOK      = core.StateOK
	StateError   = core.StateError
	StateDeleted = core.StateDeleted
)

// Assignment methods
const (
	AssignPreassign  = handlers.AssignPreassign
	AssignSkipLocked = handlers.AssignSkipLocked
	AssignSelf       = handlers.AssignSelf
)

// Security limits
const (
	MaxToolIDLength       = security.MaxToolIDLength
	MaxHandlerIDLength    = security.MaxHandlerIDLength
	MaxCommandLineSize    = security.MaxCommandLineSize
	MaxRetries            = security.MaxRetries
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrInvalidToolID       = core.ErrInvalidToolID
	ErrInvalidHandlerID    = core.ErrInvalidHandlerID
	ErrCommandLineTooLarge = core.ErrCommandLineTooLarge
	ErrJobNotOwned         = core.ErrJobNotOwned
	ErrJobNotFound         = core.ErrJobNotFound
	ErrJobCancelled        = core.ErrJobCancelled
	ErrUnknownHandler      = core.ErrUnknownHandler
	ErrNoDefaultHandler    = core.ErrNoDefaultHandler
	ErrDefaultNotDefined   = core.ErrDefaultNotDefined
	ErrUnknownDestination  = core.ErrUnknownDestination
	ErrIntegrityCheck      = core.ErrIntegrityCheckFailed
	ErrTransport           = core.ErrTransport
)

// New creates a Queue over s that binds jobs using r.
func New(s Storage, r *Registry, opts ...queue.QueueOption) *Queue {
	return queue.New(s, r, opts...)
}

// Open opens a sqlite file or postgres DSN with pool defaults.
func Open(dsn string) (*gorm.DB, error) {
	return storage.Open(dsn)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// LoadConfig reads an XML or YAML job configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// RegistryFromConfig builds and freezes a handler registry.
func RegistryFromConfig(cfg config.HandlersConfig) (*Registry, error) {
	return handlers.FromConfig(cfg)
}

// NewDispatcher creates a runner over the configured destinations. Remote
// destinations without a URL are served by app.
func NewDispatcher(dests config.DestinationsConfig, settings RunnerSettings, app *remote.App, opts ...RunnerOption) *Dispatcher {
	return runner.NewDispatcher(dests, settings, app, opts...)
}

// NewWorker creates a handler process for handlerID.
func NewWorker(q *Queue, handlerID string, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, handlerID, opts...)
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// Job option functions

// Handler binds the job to a handler id or tag.
func Handler(idOrTag string) Option {
	return queue.Handler(idOrTag)
}

// Destination sets where the job runs.
func Destination(id string) Option {
	return queue.Destination(id)
}

// Retries sets the maximum retry count.
func Retries(n int) Option {
	return queue.Retries(n)
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return queue.Delay(d)
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return queue.At(t)
}

// Input attaches an input dataset.
func Input(name, path string, hid int) Option {
	return queue.Input(name, path, hid)
}

// Output attaches an output dataset.
func Output(name, path string, hid int) Option {
	return queue.Output(name, path, hid)
}

// Worker option functions

// Concurrency sets how many jobs a worker runs at once.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// WithRunner sets how a worker executes jobs.
func WithRunner(r Runner) WorkerOption {
	return worker.WithRunner(r)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}
