// Package apperr carries the "refuse with reason" error pattern named in
// spec §7: invalid state transitions and circular-blocking attempts are
// refused with a typed, user-visible reason rather than a bare error string.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of application-level error categories from spec §7.
type Kind string

const (
	KindInvalidTransition Kind = "invalid_transition"
	KindCircularBlocking  Kind = "circular_blocking"
	KindNotFound          Kind = "not_found"
	KindAtCapacity        Kind = "at_capacity"
	KindValidationFailed  Kind = "validation_failed"
)

// Error is a typed, user-visible failure carrying the subject id (task,
// agent, or ticket) and a human-readable reason, per spec §7: "User-visible
// failures always carry the task/agent/ticket id and a human-readable
// reason".
type Error struct {
	Kind      Kind
	Subject   string // e.g. "task:abc123", "ticket:xyz"
	Reason    string
	Cause     error
}

func (e *Error) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, subject, reason string) *Error {
	return &Error{Kind: kind, Subject: subject, Reason: reason}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, subject, reason string, cause error) *Error {
	return &Error{Kind: kind, Subject: subject, Reason: reason, Cause: cause}
}

// InvalidTransition refuses a state change with a clear reason, e.g.
// "ticket is blocked by 2 tickets" (spec §7 example).
func InvalidTransition(subject, reason string) *Error {
	return New(KindInvalidTransition, subject, reason)
}

// CircularBlocking refuses a blocking-graph update that would introduce a
// cycle (spec §7, §8 invariant on ticket blocking).
func CircularBlocking(subject, reason string) *Error {
	return New(KindCircularBlocking, subject, reason)
}

// NotFound reports a missing entity.
func NotFound(subject string) *Error {
	return New(KindNotFound, subject, "not found")
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
