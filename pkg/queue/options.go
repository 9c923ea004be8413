package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// Options holds configuration for creating a job.
type Options struct {
	Handler     string // handler id or tag, empty for the registry default
	Index       *int   // stable index for pool selection, random when nil
	Destination string
	ToolVersion string
	MaxRetries  int
	Delay       time.Duration
	RunAt       *time.Time
	Datasets    []core.JobDataset
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		MaxRetries: DefaultJobRetries,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Handler binds the job to a handler id or tag.
func Handler(idOrTag string) Option {
	return optionFunc(func(o *Options) {
		o.Handler = idOrTag
	})
}

// HandlerIndex makes pool selection deterministic: jobs with the same index
// land on the same handler of a tag's pool.
func HandlerIndex(i int) Option {
	return optionFunc(func(o *Options) {
		o.Index = &i
	})
}

// Destination selects where the job runs.
func Destination(id string) Option {
	return optionFunc(func(o *Options) {
		o.Destination = id
	})
}

// ToolVersion records the version of the tool the job runs.
func ToolVersion(v string) Option {
	return optionFunc(func(o *Options) {
		o.ToolVersion = v
	})
}

// Retries sets the maximum retry count.
// Values are clamped to [0, MaxRetries] (100).
func Retries(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxRetries = security.ClampRetries(n)
	})
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Input attaches an input dataset.
func Input(name, path string, hid int) Option {
	return optionFunc(func(o *Options) {
		o.Datasets = append(o.Datasets, core.JobDataset{Name: name, Path: path, Hid: hid})
	})
}

// Output attaches an output dataset.
func Output(name, path string, hid int) Option {
	return optionFunc(func(o *Options) {
		o.Datasets = append(o.Datasets, core.JobDataset{Name: name, Path: path, Hid: hid, IsOutput: true})
	})
}

// DefaultJobRetries is the retry count of jobs created without Retries.
var DefaultJobRetries = 0

// QueueOption configures a Queue.
type QueueOption interface {
	applyQueue(*Queue)
}

type queueOptionFunc func(*Queue)

func (f queueOptionFunc) applyQueue(q *Queue) { f(q) }

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	})
}

// WithSelfHandler names the handler id of this process. Jobs created under
// the db-self assignment method are bound to it.
func WithSelfHandler(id string) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		q.selfID = id
	})
}
