// Package oerr defines the error taxonomy used across the integration core.
// Low-level adapter and store errors are wrapped into one of these kinds at
// the dispatcher/engine boundary; internal details never cross the API.
package oerr

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindValidation
	KindAuth
	KindBusinessRule
	KindIntegrity
)

func (k Kind) Code() string {
	switch k {
	case KindTransient:
		return "TRANSIENT"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindValidation:
		return "VALIDATION"
	case KindAuth:
		return "AUTH"
	case KindBusinessRule:
		return "BUSINESS_RULE"
	case KindIntegrity:
		return "INTEGRITY"
	default:
		return "UNKNOWN"
	}
}

// Error is the single error type crossing component boundaries. RetryAfter
// is a hint only set for rate-limited errors.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the operation that produced e may be retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

func Transient(msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: msg, cause: cause}
}

func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter}
}

func Validation(msg string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: msg, cause: cause}
}

func Auth(msg string, cause error) *Error {
	return &Error{Kind: KindAuth, Message: msg, cause: cause}
}

func BusinessRule(msg string, cause error) *Error {
	return &Error{Kind: KindBusinessRule, Message: msg, cause: cause}
}

func Integrity(msg string, cause error) *Error {
	return &Error{Kind: KindIntegrity, Message: msg, cause: cause}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind == k
	}
	return false
}

// IsRetryable reports whether err allows another attempt. Unclassified
// errors are treated as transient so a flaky dependency never
// permanently fails an event by accident.
func IsRetryable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Retryable()
	}
	return true
}

// CodeOf returns the stable code for err, or UNKNOWN.
func CodeOf(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind.Code()
	}
	return "UNKNOWN"
}
