// Package worker provides the handler process that runs jobs.
//
// A Worker is bound to one handler id. On every poll it claims unclaimed jobs
// on its tags when the registry assigns with db-skip-locked, then dequeues
// jobs queued for it up to its concurrency and hands each to a runner.Runner.
// While a job runs its lock is extended by a heartbeat; losing the lock, for
// example because the job was cancelled, cancels the job's context. Storage
// writes are retried with exponential backoff.
//
// Most users should import the root package github.com/jdziat/simple-remote-jobs
// which provides access to worker configuration through queue.NewWorker().
package worker
