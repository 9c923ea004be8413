package handlers

import (
	"log/slog"

	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// Option configures a Registry.
type Option interface {
	applyRegistry(*Registry)
}

type optionFunc func(*Registry)

func (f optionFunc) applyRegistry(r *Registry) { f(r) }

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	})
}

// WithAssignMethod sets how new jobs are bound to handlers.
func WithAssignMethod(m AssignMethod) Option {
	return optionFunc(func(r *Registry) {
		r.assignWith = m
	})
}

// WithMaxGrab sets the per-poll claim limit, clamped to [1, MaxGrab].
func WithMaxGrab(n int) Option {
	return optionFunc(func(r *Registry) {
		r.maxGrab = security.ClampMaxGrab(n)
	})
}
