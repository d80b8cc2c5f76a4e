package errors

import (
	"errors"
	"fmt"
)

// Exit codes reported by the command surface.
const (
	ExitFailure = 1
	ExitUsage   = 2
)

// Error represents a typed domain error with a process exit code.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ExitCode int    `json:"-"`
	Err      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so predefined errors can
// be matched with errors.Is after Wrap or Clone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, exitCode int, message string) *Error {
	return &Error{Code: code, ExitCode: exitCode, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, exitCode int, message string) *Error {
	return &Error{Code: code, ExitCode: exitCode, Message: message, Err: err}
}

// WrapAs wraps err using the code and exit code of kind.
func WrapAs(kind *Error, err error, message string) *Error {
	if message == "" {
		message = kind.Message
	}
	return Wrap(err, kind.Code, kind.ExitCode, message)
}

// Predefined errors, one per failure kind of the statement pipeline.
var (
	ErrConfiguration    = New("CONFIGURATION_ERROR", ExitUsage, "invalid configuration")
	ErrValidation       = New("VALIDATION_ERROR", ExitUsage, "validation failed")
	ErrRequestTransport = New("REQUEST_TRANSPORT", ExitFailure, "failed to send flex request")
	ErrRequestRejected  = New("REQUEST_REJECTED", ExitFailure, "flex request rejected")
	ErrInvalidResponse  = New("INVALID_RESPONSE", ExitFailure, "invalid flex response")
	ErrFetchTransport   = New("FETCH_TRANSPORT", ExitFailure, "failed to download flex statement")
	ErrFetchEmpty       = New("FETCH_EMPTY", ExitFailure, "flex statement is empty")
	ErrFetchTooLarge    = New("FETCH_TOO_LARGE", ExitFailure, "flex statement exceeds size limit")
	ErrPersistence      = New("PERSISTENCE_ERROR", ExitFailure, "failed to save flex statement")
	ErrCancelled        = New("CANCELLED", ExitFailure, "operation cancelled")
	ErrInternal         = New("INTERNAL_ERROR", ExitFailure, "internal error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.ExitCode, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// ExitCodeOf returns the exit code for err, ExitFailure when unclassified.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	e := FromError(err)
	if e.ExitCode == 0 {
		return ExitFailure
	}
	return e.ExitCode
}
