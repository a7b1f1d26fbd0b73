package platform

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a task failure.
type Kind string

const (
	KindLoginFailed         Kind = "LoginFailed"
	KindTwoFactorNoSecret   Kind = "TwoFactorRequiredButNoSecret"
	KindInvalidSecret       Kind = "InvalidSecret"
	KindRegistrationTimeout Kind = "RegistrationTimeout"
	KindUploadTimeout       Kind = "UploadTimeout"
	KindPublishTimeout      Kind = "PublishTimeout"
	KindSessionMismatch     Kind = "SessionMismatch"
	KindCancelled           Kind = "Cancelled"
	KindFailed              Kind = "Failed"
)

// Sentinels usable with errors.Is.
var (
	ErrLoginFailed         = &Error{Kind: KindLoginFailed}
	ErrTwoFactorNoSecret   = &Error{Kind: KindTwoFactorNoSecret}
	ErrInvalidSecret       = &Error{Kind: KindInvalidSecret}
	ErrRegistrationTimeout = &Error{Kind: KindRegistrationTimeout}
	ErrUploadTimeout       = &Error{Kind: KindUploadTimeout}
	ErrPublishTimeout      = &Error{Kind: KindPublishTimeout}
	ErrSessionMismatch     = &Error{Kind: KindSessionMismatch}
	ErrCancelled           = &Error{Kind: KindCancelled}
	ErrFailed              = &Error{Kind: KindFailed}
)

// Error carries a Kind plus the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err. Context errors map to Cancelled, anything
// unclassified maps to Failed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindFailed
}

// IsRetryable reports whether err belongs to a bounded-wait timeout class.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUploadTimeout, KindPublishTimeout, KindRegistrationTimeout:
		return true
	}
	return false
}
