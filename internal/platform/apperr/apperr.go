// Package apperr implements the structured error taxonomy of spec.md §7:
// stable error codes, each mapped to an HTTP status. No other package in
// this repository uses it; components return plain wrapped errors and
// HTTP handlers choose their status codes directly.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the stable error codes from spec.md §7.
type Code string

const (
	CodeValidation      Code = "VALIDATION"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeConflict        Code = "CONFLICT"
	CodeBusinessRule    Code = "BUSINESS_RULE"
	CodeExternalService Code = "EXTERNAL_SERVICE"
	CodeTransient       Code = "TRANSIENT"
	CodeInternal        Code = "INTERNAL"
)

// HTTPStatus returns the status code spec.md §7 assigns to each Code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeBusinessRule:
		return http.StatusUnprocessableEntity
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error type: a Code, a message and an optional
// wrapped cause, so a caller can branch on the code instead of
// string-matching.
type Error struct {
	Code    Code
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New constructs an Error without an underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a stable code to an underlying error, preserving it for
// errors.Is/As the way the rest of the codebase wraps with %w.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// CodeOf extracts the Code from err, defaulting to INTERNAL for anything
// that isn't an *Error — unexpected errors should never leak internals to
// the client.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err (or something it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
