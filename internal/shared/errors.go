package shared

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure for the presentation layer.
type ErrorCode string

const (
	ErrNotFound ErrorCode = "NOT_FOUND" // unknown session/capture id
	ErrLoad     ErrorCode = "LOAD_ERROR"
	ErrObserver ErrorCode = "OBSERVER_ERROR"
	ErrStore    ErrorCode = "STORE_ERROR"
)

// Error is a structured failure with a stable code. Raw internal errors are
// wrapped, never exposed across the core boundary on their own.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewNotFound reports an unknown session or capture id.
func NewNotFound(kind, id string) *Error {
	return &Error{Code: ErrNotFound, Message: fmt.Sprintf("%s not found: %s", kind, id)}
}

// NewLoadError reports a rejected surface navigation. The session row stays;
// the surface remains blank.
func NewLoadError(url string, err error) *Error {
	return &Error{Code: ErrLoad, Message: fmt.Sprintf("navigation to %s failed", url), Err: err}
}

// NewObserverError reports an observer enable/disable failure. Callers log
// and swallow these; they never block the surrounding lifecycle operation.
func NewObserverError(op string, err error) *Error {
	return &Error{Code: ErrObserver, Message: fmt.Sprintf("observer %s failed", op), Err: err}
}

// NewStoreError reports a constraint violation or I/O failure. This is the
// only class surfaced to callers by default.
func NewStoreError(op string, err error) *Error {
	return &Error{Code: ErrStore, Message: op, Err: err}
}

// IsCode reports whether err is (or wraps) an Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
