package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// DefaultManagerName addresses the default job manager.
const DefaultManagerName = "_default_"

// Request is a decoded command invocation.
type Request struct {
	Manager string
	Args    Args
	// Body is the request payload, nil when none was sent.
	Body io.Reader
}

// Response is a command result: encoded JSON, or the path of a file for
// file-producing commands.
type Response struct {
	JSON []byte
	File string
}

// App serves the command catalog on the remote side. The HTTP server and the
// local transport both dispatch through Handle.
type App struct {
	managers       map[string]JobManager
	defaultManager string
	cache          FileCache
	store          ObjectStore
	logger         *slog.Logger
}

// AppOption configures an App.
type AppOption interface {
	applyApp(*App)
}

type appOptionFunc func(*App)

func (f appOptionFunc) applyApp(a *App) { f(a) }

// WithManager registers an additional named job manager.
func WithManager(name string, m JobManager) AppOption {
	return appOptionFunc(func(a *App) {
		a.managers[name] = m
	})
}

// WithFileCache enables the cache commands.
func WithFileCache(c FileCache) AppOption {
	return appOptionFunc(func(a *App) {
		a.cache = c
	})
}

// WithObjectStore enables the object_store_* commands.
func WithObjectStore(s ObjectStore) AppOption {
	return appOptionFunc(func(a *App) {
		a.store = s
	})
}

// WithAppLogger sets the logger.
func WithAppLogger(l *slog.Logger) AppOption {
	return appOptionFunc(func(a *App) {
		if l != nil {
			a.logger = l
		}
	})
}

// NewApp creates an App whose default manager is def.
func NewApp(def JobManager, opts ...AppOption) *App {
	a := &App{
		managers:       map[string]JobManager{DefaultManagerName: def},
		defaultManager: DefaultManagerName,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt.applyApp(a)
	}
	return a
}

// Manager returns the named job manager; empty selects the default.
func (a *App) Manager(name string) (JobManager, error) {
	if name == "" {
		name = a.defaultManager
	}
	m, ok := a.managers[name]
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownManager, name)
	}
	return m, nil
}

// ManagerNames returns the registered manager names, sorted.
func (a *App) ManagerNames() []string {
	names := make([]string, 0, len(a.managers))
	for n := range a.managers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Handle runs a catalog command.
func (a *App) Handle(ctx context.Context, command string, req Request) (Response, error) {
	route, ok := routes[command]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", core.ErrUnsupportedCommand, command)
	}
	if req.Args == nil {
		req.Args = Args{}
	}
	resp, err := route(ctx, a, req)
	if err != nil {
		a.logger.Debug("remote command failed", "command", command, "manager", req.Manager, "error", err)
		return Response{}, err
	}
	return resp, nil
}

// Supports reports whether Handle has a route for command.
func (a *App) Supports(command string) bool {
	_, ok := routes[command]
	return ok
}

// EncodeJSON encodes a command result for either transport.
func EncodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode remote result: %w", err)
	}
	return b, nil
}
