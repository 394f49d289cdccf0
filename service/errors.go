package service

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidSpec        ErrorKind = "invalid_spec"
	KindNotFound           ErrorKind = "not_found"
	KindInvalidState       ErrorKind = "invalid_state"
	KindConflict           ErrorKind = "conflict"
	KindBackendRejected    ErrorKind = "backend_rejected"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindBackendAmbiguous   ErrorKind = "backend_ambiguous"
	KindInternal           ErrorKind = "internal"
)

// Retryable reports whether re-issuing the same operation can succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindBackendUnavailable || k == KindBackendAmbiguous
}

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind ErrorKind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind, defaulting to KindInternal for errors
// that did not originate in this package.
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}
