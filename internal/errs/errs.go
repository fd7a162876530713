// Package errs defines the coded error taxonomy shared by the sync core.
//
// Every error that crosses a component boundary carries a Code. Callers
// compare with errors.Is against the exported sentinels; two *Error values
// match when their codes match, regardless of message or wrapped cause.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	CodeStorageUnavailable     Code = "STORAGE_UNAVAILABLE"
	CodeFetchFailed            Code = "FETCH_FAILED"
	CodeDispatchFailed         Code = "DISPATCH_FAILED"
	CodePermanentActionFailure Code = "PERMANENT_ACTION_FAILURE"
	CodeSuperseded             Code = "SUPERSEDED"
	CodeOffline                Code = "OFFLINE"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeInvalidInput           Code = "INVALID_INPUT"
)

var (
	ErrStorageUnavailable     = New(CodeStorageUnavailable, "storage unavailable")
	ErrFetchFailed            = New(CodeFetchFailed, "fetch failed")
	ErrDispatchFailed         = New(CodeDispatchFailed, "dispatch failed")
	ErrPermanentActionFailure = New(CodePermanentActionFailure, "retries exhausted")
	ErrSuperseded             = New(CodeSuperseded, "superseded by a newer remote version")
	ErrOffline                = New(CodeOffline, "remote service unreachable")
	ErrNotFound               = New(CodeNotFound, "not found")
	ErrInvalidTransition      = New(CodeInvalidTransition, "invalid status transition")
	ErrInvalidInput           = New(CodeInvalidInput, "invalid input")
)

// Error is an error with a code and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
