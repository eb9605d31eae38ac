package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies errors that are reported back to the acting user
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAlreadyRegistered Kind = "already_registered"
	KindStaleEvent        Kind = "stale_event"
)

// Sentinels for errors.Is matching
var (
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAlreadyRegistered = &Error{Kind: KindAlreadyRegistered, Message: "already registered"}
	ErrStaleEvent        = &Error{Kind: KindStaleEvent, Message: "stale event"}
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Validation reports a malformed submission field
func Validation(field, format string, args ...any) error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing record or identity
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyRegistered reports a duplicate reviewer registration
func AlreadyRegistered(id string) error {
	return &Error{Kind: KindAlreadyRegistered, Message: fmt.Sprintf("%s is already a reviewer", id)}
}

// Stale reports an event for a record that is no longer live
func Stale(format string, args ...any) error {
	return &Error{Kind: KindStaleEvent, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage returns the text shown to the user for a classified error
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Field != "" {
			return e.Field + ": " + e.Message
		}
		return e.Message
	}
	return "internal error"
}
