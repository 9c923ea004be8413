package security

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxToolIDLength is the maximum length for tool ids
	MaxToolIDLength = 255

	// MaxHandlerIDLength is the maximum length for handler ids and tags
	MaxHandlerIDLength = 255

	// MaxCommandLineSize is the maximum size in bytes for a job command line (1MB)
	MaxCommandLineSize = 1 << 20

	// MaxRetries is the hard limit for retry attempts
	MaxRetries = 100

	// MaxConcurrency is the hard limit for worker concurrency
	MaxConcurrency = 1000

	// MaxGrab is the hard limit for jobs claimed by one handler per poll
	MaxGrab = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxFileNameLength is the maximum length for staged file names
	MaxFileNameLength = 1024
)

// validHandlerID matches alphanumeric, hyphens, underscores, and dots.
// A leading underscore is allowed for reserved tags such as "_default_".
var validHandlerID = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_\-\.]*$`)

// validToolID additionally allows slashes and plus signs used by versioned
// tool shed ids, e.g. "toolshed.example.org/repos/owner/cat1/cat1/1.0+galaxy0".
var validToolID = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_\-\.\/\+]*$`)

// ValidateHandlerID validates a handler id or tag
func ValidateHandlerID(id string) error {
	if id == "" {
		return core.ErrInvalidHandlerID
	}
	if len(id) > MaxHandlerIDLength {
		return core.ErrHandlerIDTooLong
	}
	if !validHandlerID.MatchString(id) {
		return core.ErrInvalidHandlerID
	}
	return nil
}

// ValidateToolID validates a tool id
func ValidateToolID(id string) error {
	if id == "" {
		return core.ErrInvalidToolID
	}
	if len(id) > MaxToolIDLength {
		return core.ErrToolIDTooLong
	}
	if !validToolID.MatchString(id) {
		return core.ErrInvalidToolID
	}
	return nil
}

// ValidateCommandLine enforces the command line size limit
func ValidateCommandLine(cmd string) error {
	if len(cmd) > MaxCommandLineSize {
		return core.ErrCommandLineTooLarge
	}
	return nil
}

// ValidateFileName validates a name used to stage a file inside a job
// directory on the remote side. Names may contain subdirectories but must stay
// below the staging directory.
func ValidateFileName(name string) error {
	if name == "" || len(name) > MaxFileNameLength {
		return core.ErrInvalidFileName
	}
	if strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return core.ErrInvalidFileName
	}
	if path.IsAbs(name) {
		return core.ErrInvalidFileName
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return core.ErrInvalidFileName
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampMaxGrab ensures the per-poll claim limit is within limits
func ClampMaxGrab(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxGrab {
		return MaxGrab
	}
	return n
}
