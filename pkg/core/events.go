package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobEnqueued is emitted when a job is created and bound to a handler or tag.
type JobEnqueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobEnqueued) eventMarker() {}

// JobClaimed is emitted when a handler takes ownership of jobs bound to one of its tags.
type JobClaimed struct {
	HandlerID string
	Count     int64
	Timestamp time.Time
}

func (*JobClaimed) eventMarker() {}

// JobStarted is emitted when a handler starts preparing a job.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job finishes with exit code zero.
type JobCompleted struct {
	Job       *Job
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a job is retried.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobCancelled is emitted when a job is cancelled before it finished.
type JobCancelled struct {
	JobID     string
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}
