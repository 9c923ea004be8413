package runner

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/process"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
)

// DefaultPollInterval is how often a remote job's status is checked.
const DefaultPollInterval = 2 * time.Second

// DefaultCacheWaitPolls is how many times a runner polls a file cache entry
// another job is inserting before uploading the file directly.
const DefaultCacheWaitPolls = 30

// Option configures a LocalRunner, RemoteRunner or Dispatcher.
type Option interface {
	applyRunner(*options)
}

type options struct {
	process      process.Runner
	writeOpts    []jobscript.WriteOption
	buildOpts    []jobscript.BuildOption
	pollInterval time.Duration
	cacheIP      string
	cacheWait    int
	keepRemote   bool
	remoteOpts   []remote.Option
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		process:      process.ExecRunner{},
		buildOpts:    []jobscript.BuildOption{jobscript.WithInstrumenter(jobscript.CoreInstrumenter{})},
		pollInterval: DefaultPollInterval,
		cacheWait:    DefaultCacheWaitPolls,
		logger:       slog.Default(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt.applyRunner(&o)
	}
	return o
}

type optionFunc func(*options)

func (f optionFunc) applyRunner(o *options) { f(o) }

// WithProcessRunner sets how local job scripts are executed.
func WithProcessRunner(r process.Runner) Option {
	return optionFunc(func(o *options) {
		if r != nil {
			o.process = r
		}
	})
}

// WithWriteOptions passes options to jobscript.Write for local scripts.
func WithWriteOptions(opts ...jobscript.WriteOption) Option {
	return optionFunc(func(o *options) {
		o.writeOpts = append(o.writeOpts, opts...)
	})
}

// WithBuildOptions replaces the options passed to jobscript.Build. The
// default adds the core instrumenter.
func WithBuildOptions(opts ...jobscript.BuildOption) Option {
	return optionFunc(func(o *options) {
		o.buildOpts = opts
	})
}

// WithPollInterval sets how often a remote job's status is checked.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	})
}

// WithFileCache routes input uploads through the remote file cache, keyed by
// ip as the submitting host.
func WithFileCache(ip string) Option {
	return optionFunc(func(o *options) {
		o.cacheIP = ip
	})
}

// WithCacheWait sets how many times a pending file cache entry is polled
// before the input is uploaded directly.
func WithCacheWait(polls int) Option {
	return optionFunc(func(o *options) {
		if polls >= 0 {
			o.cacheWait = polls
		}
	})
}

// WithoutRemoteCleanup leaves a remote job's staging directory in place
// after it finishes.
func WithoutRemoteCleanup() Option {
	return optionFunc(func(o *options) {
		o.keepRemote = true
	})
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *options) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithRemoteOptions passes options to the remote interfaces a Dispatcher
// creates.
func WithRemoteOptions(opts ...remote.Option) Option {
	return optionFunc(func(o *options) {
		o.remoteOpts = append(o.remoteOpts, opts...)
	})
}
