package mcpscope

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the outermost caller can map it to a
// distinct exit code without string matching.
type ErrorKind string

// Error kinds. Connection covers channel establishment and initialization
// failures, Timeout a missing response within budget, Protocol a malformed or
// erroring server response, and Validation bad outbound data or unknown names.
const (
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindProtocol   ErrorKind = "protocol"
	KindValidation ErrorKind = "validation"
)

// Error is the structured error type used throughout the package. It carries
// a kind, a human-readable message, an optional details mapping and the
// wrapped underlying cause, if any.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf reports the classification of err, or an empty kind for errors that
// did not originate from this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

func connectionErrorf(cause error, format string, args ...any) *Error {
	return newError(KindConnection, cause, format, args...)
}

func timeoutErrorf(cause error, format string, args ...any) *Error {
	return newError(KindTimeout, cause, format, args...)
}

func protocolErrorf(cause error, format string, args ...any) *Error {
	return newError(KindProtocol, cause, format, args...)
}

func validationErrorf(cause error, format string, args ...any) *Error {
	return newError(KindValidation, cause, format, args...)
}

// withDetails attaches a details mapping, replacing any previous one.
func (e *Error) withDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
