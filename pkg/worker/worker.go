package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/handlers"
	"github.com/jdziat/simple-remote-jobs/pkg/queue"
	"github.com/jdziat/simple-remote-jobs/pkg/runner"
	"github.com/jdziat/simple-remote-jobs/pkg/schedule"
)

// ErrNoRunner is returned by Start when the worker has no runner.
var ErrNoRunner = errors.New("jobs: worker has no runner")

// Worker is a handler process: it claims jobs bound to its handler id and
// runs them.
type Worker struct {
	queue     *queue.Queue
	handlerID string
	config    WorkerConfig
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewWorker creates a worker for handlerID.
func NewWorker(q *queue.Queue, handlerID string, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Concurrency:       DefaultConcurrency,
		PollInterval:      DefaultPollInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		StaleLockTimeout:  DefaultStaleLockTimeout,
		ReaperSchedule:    schedule.Every(time.Minute),
		WorkerID:          handlerID + "-" + uuid.New().String(),
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}
	if config.DequeueRetry == nil {
		// Longer backoff so an outage is not hammered.
		dequeueCfg := RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		}
		config.DequeueRetry = &dequeueCfg
	}

	logger := config.Logger
	if logger == nil {
		logger = q.Logger()
	}

	return &Worker{
		queue:     q,
		handlerID: handlerID,
		config:    config,
		logger:    logger.With("handler_id", handlerID),
	}
}

// HandlerID returns the handler id the worker serves.
func (w *Worker) HandlerID() string { return w.handlerID }

// Config returns the resolved configuration.
func (w *Worker) Config() WorkerConfig { return w.config }

// Start processes jobs until ctx is cancelled. Running jobs are waited for
// before it returns.
func (w *Worker) Start(ctx context.Context) error {
	if w.config.Runner == nil {
		return ErrNoRunner
	}
	if !w.queue.Registry().IsHandler(w.handlerID) {
		return fmt.Errorf("%w: %q is not a handler id", core.ErrUnknownHandler, w.handlerID)
	}

	if w.config.StaleLockTimeout > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			schedule.Run(ctx, w.config.ReaperSchedule, w.releaseStaleLocks)
		}()
	}

	slots := make(chan struct{}, w.config.Concurrency)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("handler started", "worker_id", w.config.WorkerID, "concurrency", w.config.Concurrency)
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("handler stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx, slots)
		}
	}
}

// poll claims tagged jobs when handlers assign themselves, then starts as
// many jobs as there are free slots.
func (w *Worker) poll(ctx context.Context, slots chan struct{}) {
	if w.queue.Registry().AssignMethod() == handlers.AssignSkipLocked {
		w.claim(ctx)
	}

	for {
		select {
		case slots <- struct{}{}:
		default:
			return
		}
		job, err := w.dequeueWithRetry(ctx)
		if err != nil || job == nil {
			<-slots
			if err != nil && !isContextErr(err) {
				w.logger.Error("failed to dequeue after retries", "error", err)
			}
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-slots }()
			w.processJob(ctx, job)
		}()
	}
}

// claim binds up to MaxGrab unclaimed jobs on the handler's tags to it.
func (w *Worker) claim(ctx context.Context) {
	tags := w.queue.Registry().Tags(w.handlerID)
	if len(tags) == 0 {
		return
	}
	var n int64
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var claimErr error
		n, claimErr = w.queue.Storage().ClaimJobs(ctx, w.handlerID, tags, w.queue.Registry().MaxGrab())
		return claimErr
	})
	if err != nil {
		if !isContextErr(err) {
			w.logger.Error("failed to claim jobs", "tags", tags, "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Debug("claimed jobs", "count", n, "tags", tags)
		w.queue.Emit(&core.JobClaimed{HandlerID: w.handlerID, Count: n, Timestamp: time.Now()})
	}
}

// dequeueWithRetry attempts to dequeue a job with exponential backoff on failure.
func (w *Worker) dequeueWithRetry(ctx context.Context) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var dequeueErr error
		job, dequeueErr = w.queue.Storage().Dequeue(ctx, w.handlerID, w.config.WorkerID)
		return dequeueErr
	})
	return job, err
}

func (w *Worker) releaseStaleLocks(ctx context.Context) {
	n, err := w.queue.Storage().ReleaseStaleLocks(ctx, w.config.StaleLockTimeout)
	switch {
	case err != nil && !isContextErr(err):
		w.logger.Warn("failed to release stale locks", "error", err)
	case n > 0:
		w.logger.Info("requeued abandoned jobs", "count", n)
	}
}

func (w *Worker) processJob(ctx context.Context, job *core.Job) {
	startTime := time.Now()
	logger := w.logger.With("job_id", job.ID, "tool_id", job.ToolID, "attempt", job.Attempt)

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	w.queue.RegisterRunningJob(job.ID, cancelJob)
	defer w.queue.UnregisterRunningJob(job.ID)

	w.queue.CallStartHooks(ctx, job)
	w.queue.Emit(&core.JobStarted{Job: job, Timestamp: startTime})

	var lost atomic.Bool
	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job, func() {
		lost.Store(true)
		cancelJob()
	})

	res, err := w.run(jobCtx, job)
	cancelHeartbeat()

	// Outcomes are recorded even when the handler is stopping.
	store := context.WithoutCancel(ctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			logger.Info("handler stopping, requeueing job")
			now := time.Now()
			w.failWithRetry(store, job.ID, "handler stopped", &now)
		case lost.Load() || jobCtx.Err() != nil || errors.Is(err, core.ErrJobNotOwned):
			logger.Info("job cancelled")
		default:
			logger.Warn("job failed to run", "error", err)
			w.handleError(store, job, err)
		}
		return
	}

	if err := w.completeWithRetry(store, job.ID, res.ExitCode); err != nil {
		if errors.Is(err, core.ErrJobNotOwned) {
			logger.Info("job cancelled before completion was recorded")
			return
		}
		logger.Error("failed to complete job after retries", "error", err)
		return
	}

	code := res.ExitCode
	job.ExitCode = &code
	if code == 0 {
		job.State = core.StateOK
		logger.Info("job finished", "duration", time.Since(startTime))
		w.queue.CallCompleteHooks(store, job)
		w.queue.Emit(&core.JobCompleted{Job: job, ExitCode: code, Duration: time.Since(startTime), Timestamp: time.Now()})
		return
	}

	job.State = core.StateError
	toolErr := fmt.Errorf("jobs: tool exited with code %d", code)
	logger.Info("job finished with error", "exit_code", code, "duration", time.Since(startTime))
	w.queue.CallFailHooks(store, job, toolErr)
	w.queue.Emit(&core.JobFailed{Job: job, Error: toolErr, Timestamp: time.Now()})
}

// run executes the job, converting a panic into an error.
func (w *Worker) run(ctx context.Context, job *core.Job) (res runner.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.config.Runner.Run(ctx, job, &recorder{w: w, jobID: job.ID})
}

// completeWithRetry records the exit code with retry on transient failures.
func (w *Worker) completeWithRetry(ctx context.Context, jobID string, exitCode int) error {
	return retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.queue.Storage().Complete(ctx, jobID, w.config.WorkerID, exitCode)
	})
}

// runHeartbeat periodically extends the job lock during execution. When the
// storage reports the job is no longer ours, lost is called.
func (w *Worker) runHeartbeat(ctx context.Context, job *core.Job, lost func()) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
				return (w.queue.Storage().Heartbeat(ctx, job.ID, w.config.WorkerID))
			})
			switch {
			case errors.Is(err, core.ErrJobNotOwned):
				w.logger.Info("job lock lost", "job_id", job.ID)
				lost()
				return
			case err != nil:
				w.logger.Warn("heartbeat failed after retries", "job_id", job.ID, "error", err)
			default:
				w.logger.Debug("heartbeat sent", "job_id", job.ID)
			}
		}
	}
}

func (w *Worker) handleError(ctx context.Context, job *core.Job, err error) {
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		w.fail(ctx, job, err)
		return
	}

	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) && job.Attempt <= job.MaxRetries {
		w.retry(ctx, job, err, time.Now().Add(retryAfter.Delay))
		return
	}

	if job.Attempt <= job.MaxRetries {
		w.retry(ctx, job, err, time.Now().Add(w.calculateBackoff(job.Attempt)))
		return
	}
	w.fail(ctx, job, err)
}

func (w *Worker) retry(ctx context.Context, job *core.Job, err error, retryAt time.Time) {
	w.failWithRetry(ctx, job.ID, err.Error(), &retryAt)
	w.queue.CallRetryHooks(ctx, job, job.Attempt, err)
	w.queue.Emit(&core.JobRetrying{Job: job, Attempt: job.Attempt, Error: err, NextRunAt: retryAt, Timestamp: time.Now()})
}

func (w *Worker) fail(ctx context.Context, job *core.Job, err error) {
	w.failWithRetry(ctx, job.ID, err.Error(), nil)
	job.State = core.StateError
	w.queue.CallFailHooks(ctx, job, err)
	w.queue.Emit(&core.JobFailed{Job: job, Error: err, Timestamp: time.Now()})
}

// failWithRetry marks a job as failed with retry on transient storage failures.
func (w *Worker) failWithRetry(ctx context.Context, jobID string, errMsg string, retryAt *time.Time) {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return (w.queue.Storage().Fail(ctx, jobID, w.config.WorkerID, errMsg, retryAt))
	})
	if err != nil {
		w.logger.Error("failed to mark job as failed after retries", "job_id", jobID, "error", err)
	}
}

func (w *Worker) calculateBackoff(attempt int) time.Duration {
	// 2^6s already exceeds the cap; larger shifts overflow.
	if attempt > 5 {
		return time.Minute
	}
	if attempt < 0 {
		attempt = 0
	}
	base := time.Second
	backoff := base * (1 << attempt)
	if backoff > time.Minute {
		backoff = time.Minute
	}
	return backoff
}

// recorder writes runner bookkeeping to the job row.
type recorder struct {
	w     *Worker
	jobID string
}

func (r *recorder) WorkingDirectory(ctx context.Context, dir string) error {
	return retryWithBackoff(ctx, *r.w.config.StorageRetry, func() error {
		return (r.w.queue.Storage().SetWorkingDirectory(ctx, r.jobID, r.w.config.WorkerID, dir))
	})
}

func (r *recorder) ExternalID(ctx context.Context, id string) error {
	return retryWithBackoff(ctx, *r.w.config.StorageRetry, func() error {
		return (r.w.queue.Storage().SetExternalID(ctx, r.jobID, r.w.config.WorkerID, id))
	})
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
