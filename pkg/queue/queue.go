package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/handlers"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// Queue creates jobs, binds them to handlers and fans out lifecycle hooks
// and events.
type Queue struct {
	storage  core.Storage
	registry *handlers.Registry
	selfID   string
	logger   *slog.Logger
	mu       sync.RWMutex

	// Hooks
	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	// Event stream
	eventSubs []chan core.Event

	// Running job cancellation registry (used by workers to register cancel funcs)
	runningJobs   map[string]context.CancelFunc
	runningJobsMu sync.Mutex
}

// New creates a Queue over storage s. The registry must already have its
// default resolved.
func New(s core.Storage, r *handlers.Registry, opts ...QueueOption) *Queue {
	q := &Queue{
		storage:     s,
		registry:    r,
		logger:      slog.Default(),
		runningJobs: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt.applyQueue(q)
	}
	return q
}

// Enqueue creates a job running commandLine for toolID and binds it to a
// handler according to the registry's assignment method. It returns the job id.
func (q *Queue) Enqueue(ctx context.Context, toolID, commandLine string, opts ...Option) (string, error) {
	if err := security.ValidateToolID(toolID); err != nil {
		return "", err
	}
	if err := security.ValidateCommandLine(commandLine); err != nil {
		return "", err
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	job := &core.Job{
		ID:          uuid.New().String(),
		ToolID:      toolID,
		ToolVersion: options.ToolVersion,
		CommandLine: commandLine,
		Destination: options.Destination,
		MaxRetries:  security.ClampRetries(options.MaxRetries),
		Datasets:    options.Datasets,
	}
	if options.Delay > 0 {
		runAt := time.Now().Add(options.Delay)
		job.RunAt = &runAt
	}
	if options.RunAt != nil {
		job.RunAt = options.RunAt
	}

	if err := q.assign(job, options); err != nil {
		return "", err
	}
	if err := q.storage.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("jobs: failed to enqueue: %w", err)
	}

	q.logger.Debug("job enqueued", "job_id", job.ID, "tool_id", toolID, "handler", job.Handler, "state", job.State)
	q.Emit(&core.JobEnqueued{Job: job, Timestamp: time.Now()})
	return job.ID, nil
}

// assign sets the job's handler and initial state.
//
// Under db-preassign the job is bound to one member of the pool right away.
// Under db-skip-locked a tag is stored as-is and the job stays new until a
// handler in the pool claims it; a concrete handler id is bound directly.
// Under db-self the job belongs to this process.
func (q *Queue) assign(job *core.Job, options *Options) error {
	key := options.Handler
	if key == "" {
		key = q.registry.Default()
	}

	switch q.registry.AssignMethod() {
	case handlers.AssignSelf:
		if q.selfID == "" {
			return fmt.Errorf("%w: db-self assignment without a self handler id", core.ErrUnknownHandler)
		}
		job.Handler = q.selfID
		job.State = core.StateQueued
		return nil

	case handlers.AssignSkipLocked:
		if !q.registry.IsKey(key) {
			return fmt.Errorf("%w: %q", core.ErrUnknownHandler, key)
		}
		job.Handler = key
		job.State = core.StateNew
		if q.registry.IsHandler(key) {
			job.State = core.StateQueued
		}
		return nil

	default:
		var (
			id  string
			err error
		)
		if options.Index != nil {
			id, err = q.registry.GetHandler(key, *options.Index)
		} else {
			id, err = q.registry.RandomHandler(key)
		}
		if err != nil {
			return err
		}
		job.Handler = id
		job.State = core.StateQueued
		return nil
	}
}

// Cancel cancels a job. A job running in this process has its context
// cancelled right away; elsewhere the owning worker notices on its next
// heartbeat.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	if err := q.storage.Cancel(ctx, jobID); err != nil {
		return err
	}

	q.runningJobsMu.Lock()
	cancel, found := q.runningJobs[jobID]
	q.runningJobsMu.Unlock()
	if found {
		cancel()
	}

	q.Emit(&core.JobCancelled{JobID: jobID, Timestamp: time.Now()})
	return nil
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// Registry returns the handler registry.
func (q *Queue) Registry() *handlers.Registry {
	return q.registry
}

// Logger returns the queue logger.
func (q *Queue) Logger() *slog.Logger {
	return q.logger
}

// OnJobStart registers a callback for when a job starts.
func (q *Queue) OnJobStart(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onStart = append(q.onStart, fn)
	q.mu.Unlock()
}

// OnJobComplete registers a callback for when a job finishes.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a job is retried.
func (q *Queue) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling
// Unsubscribe. After it returns, no further events are sent to the channel.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers. Full subscribers miss the event.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// CallStartHooks calls all registered start hooks.
func (q *Queue) CallStartHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onStart))
	copy(hooks, q.onStart)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallCompleteHooks calls all registered complete hooks.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, error), len(q.onRetry))
	copy(hooks, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, attempt, err)
	}
}

// RegisterRunningJob registers a cancel function for a running job so that
// Cancel can stop it in this process.
func (q *Queue) RegisterRunningJob(jobID string, cancel context.CancelFunc) {
	q.runningJobsMu.Lock()
	q.runningJobs[jobID] = cancel
	q.runningJobsMu.Unlock()
}

// UnregisterRunningJob removes a job from the running registry.
func (q *Queue) UnregisterRunningJob(jobID string) {
	q.runningJobsMu.Lock()
	delete(q.runningJobs, jobID)
	q.runningJobsMu.Unlock()
}

// WorkerFactory is set by the root package to create workers.
// This avoids import cycles between queue and worker packages.
var WorkerFactory func(q *Queue, handlerID string, opts ...any) core.Starter

// NewWorker creates a worker that runs the jobs bound to handlerID.
// Options should be worker.WorkerOption values.
func (q *Queue) NewWorker(handlerID string, opts ...any) core.Starter {
	if WorkerFactory == nil {
		panic("jobs: WorkerFactory not initialized - import github.com/jdziat/simple-remote-jobs to initialize")
	}
	return WorkerFactory(q, handlerID, opts...)
}
