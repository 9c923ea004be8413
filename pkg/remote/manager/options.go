package manager

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/jobscript"
	"github.com/jdziat/simple-remote-jobs/pkg/process"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// Option configures a Manager.
type Option interface {
	applyManager(*Manager)
}

type optionFunc func(*Manager)

func (f optionFunc) applyManager(m *Manager) { f(m) }

// WithRunner sets the process runner that executes job scripts.
func WithRunner(r process.Runner) Option {
	return optionFunc(func(m *Manager) {
		if r != nil {
			m.runner = r
		}
	})
}

// WithWriteOptions configures how submitted scripts are written and verified.
func WithWriteOptions(opts ...jobscript.WriteOption) Option {
	return optionFunc(func(m *Manager) {
		m.writeOpts = append(m.writeOpts, opts...)
	})
}

// WithMaxConcurrent bounds the number of scripts running at once. Submitted
// jobs beyond the limit stay queued. Values are clamped to
// [1, security.MaxConcurrency].
func WithMaxConcurrent(n int) Option {
	return optionFunc(func(m *Manager) {
		m.slots = make(chan struct{}, security.ClampConcurrency(n))
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	})
}

// CacheOption configures a FileCache.
type CacheOption interface {
	applyCache(*FileCache)
}

type cacheOptionFunc func(*FileCache)

func (f cacheOptionFunc) applyCache(c *FileCache) { f(c) }

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return cacheOptionFunc(func(c *FileCache) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithPendingTimeout sets how long a reservation may go without an insert
// before CacheRequired hands it to another caller.
func WithPendingTimeout(d time.Duration) CacheOption {
	return cacheOptionFunc(func(c *FileCache) {
		if d > 0 {
			c.pendingTimeout = d
		}
	})
}
