package core

import (
	"context"
	"time"
)

// Starter is the interface for starting workers.
type Starter interface {
	Start(ctx context.Context) error
}

// Storage is the persistent job-state store. It is the only place where
// mutual exclusion between handler processes is enforced.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context, handlerID string, workerID string) (*Job, error)
	Complete(ctx context.Context, jobID string, workerID string, exitCode int) error
	Fail(ctx context.Context, jobID string, workerID string, errMsg string, retryAt *time.Time) error

	// Handler assignment
	ClaimJobs(ctx context.Context, handlerID string, tags []string, limit int) (int64, error)
	AssignHandler(ctx context.Context, jobID string, handlerID string) error

	// Remote bookkeeping
	SetExternalID(ctx context.Context, jobID string, workerID string, externalID string) error
	SetWorkingDirectory(ctx context.Context, jobID string, workerID string, dir string) error

	// Cancellation
	Cancel(ctx context.Context, jobID string) error

	// Locking
	Heartbeat(ctx context.Context, jobID string, workerID string) error
	ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error)

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobsByState(ctx context.Context, state JobState, limit int) ([]*Job, error)
	GetJobsByHandler(ctx context.Context, handlerID string, limit int) ([]*Job, error)
}
