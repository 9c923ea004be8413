package jobscript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/config"
)

// State is the lifecycle position of a job script.
type State int

const (
	StateDraft State = iota
	StateRendered
	StateIntegrityPending
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StateRendered:
		return "rendered"
	case StateIntegrityPending:
		return "integrity_pending"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Script is a job script written to disk.
type Script struct {
	Path     string
	Contents string
	State    State
}

// DefaultMode is the permission set on written scripts.
const DefaultMode os.FileMode = 0o755

// WriteOption configures Write.
type WriteOption interface {
	applyWrite(*writeOptions)
}

type writeOptions struct {
	mode     os.FileMode
	check    bool
	verifier *Verifier
	count    int
	sleep    *time.Duration
}

type writeOptionFunc func(*writeOptions)

func (f writeOptionFunc) applyWrite(o *writeOptions) { f(o) }

// WithMode sets the script's permission bits.
func WithMode(mode os.FileMode) WriteOption {
	return writeOptionFunc(func(o *writeOptions) {
		o.mode = mode
	})
}

// WithoutIntegrityCheck skips verification; the script is left Rendered.
func WithoutIntegrityCheck() WriteOption {
	return writeOptionFunc(func(o *writeOptions) {
		o.check = false
	})
}

// WithVerifier replaces the default verifier.
func WithVerifier(v *Verifier) WriteOption {
	return writeOptionFunc(func(o *writeOptions) {
		o.verifier = v
	})
}

// WithIntegrityConfig applies the configured check switch, attempt count and
// sleep to whichever verifier is used.
func WithIntegrityConfig(cfg config.IntegrityConfig) WriteOption {
	return writeOptionFunc(func(o *writeOptions) {
		o.check = cfg.Enabled()
		o.count = cfg.Attempts()
		if cfg.Sleep != nil {
			d := cfg.SleepDuration()
			o.sleep = &d
		}
	})
}

// Write creates parent directories, writes contents, makes the file
// executable and verifies it. The returned Script reports the state reached
// even when err is non-nil.
func Write(ctx context.Context, path string, contents string, opts ...WriteOption) (*Script, error) {
	o := writeOptions{mode: DefaultMode, check: true}
	for _, opt := range opts {
		opt.applyWrite(&o)
	}

	script := &Script{Path: path, Contents: contents, State: StateRendered}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		script.State = StateFailed
		return script, fmt.Errorf("jobs: create job script directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(contents), o.mode); err != nil {
		script.State = StateFailed
		return script, fmt.Errorf("jobs: write job script: %w", err)
	}
	// WriteFile only applies the mode when creating the file.
	if err := os.Chmod(path, o.mode); err != nil {
		script.State = StateFailed
		return script, fmt.Errorf("jobs: chmod job script: %w", err)
	}

	if !o.check {
		return script, nil
	}

	v := NewVerifier()
	if o.verifier != nil {
		copied := *o.verifier
		v = &copied
	}
	if o.count > 0 {
		v.Count = o.count
	}
	if o.sleep != nil {
		v.Sleep = *o.sleep
	}

	script.State = StateIntegrityPending
	if err := v.Verify(ctx, path); err != nil {
		script.State = StateFailed
		return script, err
	}
	script.State = StateVerified
	return script, nil
}
