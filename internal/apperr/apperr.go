// Package apperr defines the five error kinds shared by every service
// package and mapped to HTTP status codes in one place by internal/httpapi.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the five error kinds surfaced uniformly across the API.
type Kind string

const (
	KindInvalidInput  Kind = "InvalidInput"
	KindUnauthorized  Kind = "Unauthorized"
	KindForbidden     Kind = "Forbidden"
	KindNotFound      Kind = "NotFound"
	KindConflict      Kind = "Conflict"
)

// Error is a typed application error carrying a Kind and optional structured
// fields (used by the addendum stale-base conflict body).
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// As reports whether err (or something it wraps) is an *Error, populating target.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error { return newErr(KindInvalidInput, format, args...) }
func Unauthorized(format string, args ...any) *Error { return newErr(KindUnauthorized, format, args...) }
func Forbidden(format string, args ...any) *Error    { return newErr(KindForbidden, format, args...) }
func NotFound(format string, args ...any) *Error     { return newErr(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error     { return newErr(KindConflict, format, args...) }

// WithFields attaches structured fields (e.g. conflictArtifactId) to an error
// and returns it for chaining: return apperr.Conflict("...").WithFields(...)
func (e *Error) WithFields(fields map[string]any) *Error {
	e.Fields = fields
	return e
}
