package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
)

// Dispatcher routes each job to the runner of its destination. Runners are
// built on first use and reused.
type Dispatcher struct {
	dests    config.DestinationsConfig
	settings Settings
	app      *remote.App
	opts     []Option
	remote   []remote.Option

	mu      sync.Mutex
	runners map[string]Runner
}

var _ Runner = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the configured destinations.
// Remote destinations without a URL are served by app, which may be nil when
// there are none.
func NewDispatcher(dests config.DestinationsConfig, settings Settings, app *remote.App, opts ...Option) *Dispatcher {
	return &Dispatcher{
		dests:    dests,
		settings: settings,
		app:      app,
		opts:     opts,
		remote:   applyOptions(opts).remoteOpts,
		runners:  make(map[string]Runner),
	}
}

// Runner returns the runner for a destination id. An empty id selects the
// default destination.
func (d *Dispatcher) Runner(id string) (Runner, error) {
	cfg, ok := d.dests.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownDestination, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.runners[cfg.ID]; ok {
		return r, nil
	}

	var r Runner
	switch cfg.Runner {
	case config.RunnerLocal:
		r = NewLocalRunner(d.settings, d.opts...)
	case config.RunnerRemote:
		dest, err := remote.DestinationFromConfig(cfg, d.app)
		if err != nil {
			return nil, err
		}
		client, err := remote.New(dest, d.remote...)
		if err != nil {
			return nil, err
		}
		r = NewRemoteRunner(client, d.settings, d.opts...)
	default:
		return nil, fmt.Errorf("%w: %q has runner %q", core.ErrUnknownDestination, cfg.ID, cfg.Runner)
	}
	d.runners[cfg.ID] = r
	return r, nil
}

// Run runs job on the runner of job.Destination.
func (d *Dispatcher) Run(ctx context.Context, job *core.Job, rec Recorder) (Result, error) {
	r, err := d.Runner(job.Destination)
	if err != nil {
		return Result{}, core.NoRetry(err)
	}
	return r.Run(ctx, job, rec)
}
