// Package apierr carries an HTTP status and a stable response code alongside
// the underlying cause as errors travel from the clutch services to the
// handlers. Handlers unwrap with errors.As and render the error envelope;
// anything that is not an *Error falls back to a plain 500.
package apierr

import (
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// BadRequest flags invalid caller input: missing fields, malformed clutch
// ids, unsupported upload content types. Never worth a retry.
func BadRequest(code string, err error) *Error {
	return New(http.StatusBadRequest, code, err)
}

// NotFound reports an absent clutch or job under the given code.
func NotFound(code string, err error) *Error {
	return New(http.StatusNotFound, code, err)
}

// Internal wraps store and queue failures under the INTERNAL_ERROR code.
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, "INTERNAL_ERROR", err)
}
