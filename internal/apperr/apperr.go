// Package apperr defines the error taxonomy shared by the authorization
// kernel, the event service, and the summary engine. Transport layers map
// a Code to a status and never expose the wrapped cause.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Code string

const (
	CodePermissionDenied Code = "permission_denied"
	CodeNotFound         Code = "not_found"
	CodeValidation       Code = "validation_error"
	CodeConflict         Code = "conflict"
	CodeInternal         Code = "internal_error"
)

// Fields maps a request field name to a human readable problem.
type Fields map[string]string

// Add records a problem for field, keeping the first one reported.
func (f Fields) Add(field, problem string) {
	if _, ok := f[field]; !ok {
		f[field] = problem
	}
}

type Error struct {
	Code    Code
	Message string
	Fields  Fields
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " [%s: %s]", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func PermissionDenied(msg string) *Error {
	return &Error{Code: CodePermissionDenied, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// Validation returns a validation error carrying per-field problems.
func Validation(fields Fields) *Error {
	return &Error{Code: CodeValidation, Message: "invalid request", Fields: fields}
}

// ValidationField is shorthand for a single-field validation error.
func ValidationField(field, problem string) *Error {
	return Validation(Fields{field: problem})
}

func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Internal wraps an unexpected failure. The cause is kept for logging only.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "unable to process request", Err: err}
}

// CodeOf reports the taxonomy code of err. Errors outside the taxonomy are
// internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Wrap passes taxonomy errors through untouched and turns anything else into
// an internal error.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Internal(err)
}
