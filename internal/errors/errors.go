// Package errors provides structured errors for nbssh components.
// Each error carries a category code, a human message, an optional
// actionable suggestion, and an optional underlying cause.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing failures.
const (
	ErrConfig  = "CONFIG"  // configuration loading or validation
	ErrConnect = "CONNECT" // TCP connect exhausted its retries
	ErrAuth    = "AUTH"    // all authentication strategies exhausted
	ErrChannel = "CHANNEL" // channel-level failure after recovery attempt
	ErrProto   = "PROTO"   // terminal protocol engine error
	ErrExec    = "EXEC"    // remote command execution failure
)

// Error represents a structured error with code, message, suggestion, and
// optional cause.
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrProto code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrProto,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var nbErr *Error
	if errors.As(err, &nbErr) {
		return nbErr.Code == code
	}
	return false
}
