package remote

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// ErrorBody is the JSON body of a failed HTTP command. Code names the
// sentinel behind the failure so clients can restore it.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorCode struct {
	code   string
	err    error
	status int
}

// errorCodes is checked in order; the first sentinel matched wins.
var errorCodes = []errorCode{
	{"missing_argument", core.ErrMissingArgument, http.StatusBadRequest},
	{"invalid_file_name", core.ErrInvalidFileName, http.StatusBadRequest},
	{"invalid_token", core.ErrInvalidToken, http.StatusForbidden},
	{"job_not_found", core.ErrJobNotFound, http.StatusNotFound},
	{"object_not_found", core.ErrObjectNotFound, http.StatusNotFound},
	{"unknown_manager", core.ErrUnknownManager, http.StatusNotFound},
	{"cache_miss", core.ErrCacheMiss, http.StatusNotFound},
	{"file_not_found", os.ErrNotExist, http.StatusNotFound},
	{"already_submitted", core.ErrAlreadySubmitted, http.StatusConflict},
	{"job_not_submitted", core.ErrJobNotSubmitted, http.StatusConflict},
	{"unsupported_command", core.ErrUnsupportedCommand, http.StatusNotImplemented},
}

func lookupCode(err error) (errorCode, bool) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return errorCode{}, false
}

// HTTPStatus maps a command error to an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if c, ok := lookupCode(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// ErrorCode returns the stable code for the sentinel wrapped by err, or ""
// when err wraps none.
func ErrorCode(err error) string {
	c, _ := lookupCode(err)
	return c.code
}

// NewErrorBody builds the HTTP error body for err.
func NewErrorBody(err error) ErrorBody {
	return ErrorBody{Message: err.Error(), Code: ErrorCode(err)}
}

// CodeError returns the sentinel named by code, or nil for unknown codes.
func CodeError(code string) error {
	if code == "" {
		return nil
	}
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// responseError restores the sentinel behind a failed response from its body,
// falling back to the status for servers that send no code.
func responseError(status int, body []byte) error {
	var eb ErrorBody
	if json.Unmarshal(body, &eb) == nil {
		if err := CodeError(eb.Code); err != nil {
			return err
		}
	}
	switch status {
	case http.StatusForbidden:
		return core.ErrInvalidToken
	case http.StatusNotImplemented:
		return core.ErrUnsupportedCommand
	default:
		return nil
	}
}
