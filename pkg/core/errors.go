package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrInvalidToolID       = errors.New("jobs: invalid tool id")
	ErrToolIDTooLong       = errors.New("jobs: tool id too long")
	ErrInvalidHandlerID    = errors.New("jobs: invalid handler id (must be alphanumeric, start with letter or underscore)")
	ErrHandlerIDTooLong    = errors.New("jobs: handler id too long")
	ErrInvalidFileName     = errors.New("jobs: invalid staged file name")
	ErrCommandLineTooLarge = errors.New("jobs: command line exceeds size limit")
	ErrJobNotOwned         = errors.New("jobs: job not owned by this worker")
	ErrJobNotFound         = errors.New("jobs: job not found")
	ErrJobCancelled        = errors.New("jobs: job cancelled")
)

// Configuration errors. These are startup errors except ErrMissingHandlerID,
// which configuration loaders log and skip.
var (
	ErrMissingHandlerID   = errors.New("jobs: handler definition has no id")
	ErrNoDefaultHandler   = errors.New("jobs: no default handler specified, set the default attribute to a valid handler id or tag")
	ErrDefaultNotDefined  = errors.New("jobs: default handler does not match a defined handler id or tag")
	ErrUnknownHandler     = errors.New("jobs: unknown handler id or tag")
	ErrRegistryFrozen     = errors.New("jobs: handler registry is frozen after default resolution")
	ErrUnknownDestination = errors.New("jobs: unknown destination")
)

// Job script and remote execution errors.
var (
	ErrMissingParameter     = errors.New("jobs: missing required job script parameter")
	ErrIntegrityCheckFailed = errors.New("jobs: could not verify job script integrity")
	ErrTransport            = errors.New("jobs: remote transport error")
	ErrUnsupportedCommand   = errors.New("jobs: unsupported remote command")
	ErrMissingArgument      = errors.New("jobs: missing remote command argument")
)

// Remote endpoint errors.
var (
	ErrUnknownManager   = errors.New("jobs: unknown remote job manager")
	ErrObjectNotFound   = errors.New("jobs: object not found")
	ErrCacheMiss        = errors.New("jobs: file is not cached")
	ErrInvalidToken     = errors.New("jobs: invalid private token")
	ErrJobNotSubmitted  = errors.New("jobs: remote job has not been submitted")
	ErrAlreadySubmitted = errors.New("jobs: remote job already submitted")
)

// MissingParameterError reports a required job script parameter that was not supplied.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("jobs: job script template requires parameter %q", e.Name)
}

func (e *MissingParameterError) Unwrap() error {
	return ErrMissingParameter
}

// IntegrityError is returned when a written job script never ran in self-test mode.
type IntegrityError struct {
	Path     string
	Attempts int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("jobs: failed to write job script %q, could not verify job script integrity after %d attempts", e.Path, e.Attempts)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityCheckFailed
}

// TransportError describes a failed remote call. StatusCode is zero when the
// endpoint could not be reached.
type TransportError struct {
	Command    string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("jobs: remote command %q failed with HTTP %d: %s", e.Command, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("jobs: remote command %q failed: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransport, e.Err}
	}
	return []error{ErrTransport}
}

// UnsupportedCommandError is returned when a transport has no implementation for a command.
type UnsupportedCommandError struct {
	Command   string
	Transport string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("jobs: %s transport does not support command %q", e.Transport, e.Command)
}

func (e *UnsupportedCommandError) Unwrap() error {
	return ErrUnsupportedCommand
}

// NoRetryError indicates a job failure that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates a job failure that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
