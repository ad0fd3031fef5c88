// Package apperr classifies errors for translation into client responses.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Application error codes.
const (
	EINVALID       = "invalid"       // 400 - malformed input
	EUNAUTHORIZED  = "unauthorized"  // 401 - no caller identity
	EFORBIDDEN     = "forbidden"     // 403 - caller may not act on the resource
	ENOTFOUND      = "not_found"     // 404
	ECONFLICT      = "conflict"      // 409 - contention or state conflict
	EGONE          = "gone"          // 410 - expired resource
	EUNPROCESSABLE = "unprocessable" // 422 - well formed but not acceptable now
	EINTERNAL      = "internal"      // 500
)

// Error carries a machine readable code, a user-safe message, the operation
// that failed and an optional cause.
type Error struct {
	Code    string
	Message string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Coder is implemented by typed domain errors that are not *Error.
type Coder interface {
	Code() string
}

// Errorf creates a new application error.
func Errorf(code, op, format string, args ...any) error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation to err. Returns nil if err is nil.
func Wrap(err error, code, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// Code extracts the code of the outermost classified error in the chain,
// EINTERNAL for unclassified errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if e := classified(err); e != nil {
		switch v := e.(type) {
		case *Error:
			return v.Code
		case Coder:
			return v.Code()
		}
	}
	return EINTERNAL
}

// Message extracts a user-facing message. Internal errors are hidden.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if Code(err) == EINTERNAL {
		return "An internal error occurred. Please try again later."
	}
	if e, ok := classified(err).(*Error); ok {
		return e.Message
	}
	return classified(err).Error()
}

func classified(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *Error, Coder:
			return e
		}
	}
	return nil
}
