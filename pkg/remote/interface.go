package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// Interface executes catalog commands against a remote execution endpoint.
//
// Execute returns the JSON result of the command, or the raw file contents
// for file-producing commands. With WithOutputPath the file is written there
// instead and the returned slice is nil. Each call makes at most one attempt.
type Interface interface {
	Execute(ctx context.Context, command string, args Args, opts ...ExecOption) ([]byte, error)
}

// ExecOption configures a single Execute call.
type ExecOption interface {
	applyExec(*execOptions)
}

type execOptionFunc func(*execOptions)

func (f execOptionFunc) applyExec(o *execOptions) { f(o) }

type execOptions struct {
	data       []byte
	hasData    bool
	inputPath  string
	outputPath string
}

func newExecOptions(opts []ExecOption) execOptions {
	var o execOptions
	for _, opt := range opts {
		opt.applyExec(&o)
	}
	return o
}

// WithData sends data as the request body.
func WithData(data []byte) ExecOption {
	return execOptionFunc(func(o *execOptions) {
		o.data = data
		o.hasData = true
	})
}

// WithInputPath sends the contents of a local file as the request body.
func WithInputPath(path string) ExecOption {
	return execOptionFunc(func(o *execOptions) {
		o.inputPath = path
	})
}

// WithOutputPath writes a file-producing command's result to path.
func WithOutputPath(path string) ExecOption {
	return execOptionFunc(func(o *execOptions) {
		o.outputPath = path
	})
}

// TransportKind selects an Interface implementation.
type TransportKind int

const (
	// TransportLocal dispatches commands to an in-process App.
	TransportLocal TransportKind = iota
	// TransportHTTP sends commands to a remote server.
	TransportHTTP
)

func (k TransportKind) String() string {
	switch k {
	case TransportLocal:
		return "local"
	case TransportHTTP:
		return "http"
	default:
		return fmt.Sprintf("TransportKind(%d)", int(k))
	}
}

// Destination is the resolved endpoint of a remote runner.
type Destination struct {
	Kind TransportKind
	// URL and PrivateToken are used by TransportHTTP.
	URL          string
	PrivateToken string
	// Manager addresses a named job manager; empty selects the default.
	Manager string
	// Timeout bounds each HTTP request; zero means none.
	Timeout time.Duration
	// App serves TransportLocal.
	App *App
}

// Option configures an Interface.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	transport Transport
	logger    *slog.Logger
}

// WithTransport replaces the HTTP client used by TransportHTTP.
func WithTransport(t Transport) Option {
	return optionFunc(func(o *options) {
		o.transport = t
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *options) {
		if l != nil {
			o.logger = l
		}
	})
}

// New returns the Interface for dest.
func New(dest Destination, opts ...Option) (Interface, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt.apply(&o)
	}

	switch dest.Kind {
	case TransportHTTP:
		return newHTTPInterface(dest, o)
	case TransportLocal:
		if dest.App == nil {
			return nil, fmt.Errorf("%w: local transport requires an app", core.ErrUnknownDestination)
		}
		return &LocalInterface{app: dest.App, manager: dest.Manager, logger: o.logger}, nil
	default:
		return nil, fmt.Errorf("%w: transport %s", core.ErrUnknownDestination, dest.Kind)
	}
}

// DestinationFromConfig resolves a configured remote destination. A
// destination without a URL is served in-process by app.
func DestinationFromConfig(d config.DestinationConfig, app *App) (Destination, error) {
	if d.Runner != config.RunnerRemote {
		return Destination{}, fmt.Errorf("%w: %q is not a remote destination", core.ErrUnknownDestination, d.ID)
	}
	dest := Destination{
		URL:          d.URL,
		PrivateToken: d.PrivateToken,
		Manager:      d.Manager,
		Timeout:      d.TimeoutDuration(),
		App:          app,
	}
	if d.URL != "" {
		dest.Kind = TransportHTTP
	} else {
		dest.Kind = TransportLocal
	}
	return dest, nil
}

// Decode unmarshals the JSON result of an Execute call.
func Decode[T any](data []byte, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("jobs: decode remote result: %w", err)
	}
	return v, nil
}
