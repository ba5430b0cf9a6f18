package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorClass partitions failures from external dependencies so the retry
// policy and circuit breakers can act on them without knowing the dependency.
type ErrorClass string

const (
	ErrClassValidation  ErrorClass = "validation"
	ErrClassAuth        ErrorClass = "auth"
	ErrClassRateLimit   ErrorClass = "rate_limit"
	ErrClassTransient   ErrorClass = "transient"
	ErrClassCircuitOpen ErrorClass = "circuit_open"
	ErrClassTimeout     ErrorClass = "timeout"
)

type ClassifiedError struct {
	Class      ErrorClass
	Dependency string
	// RetryAfter carries a server-provided hint for rate-limited calls.
	// Zero means no hint.
	RetryAfter time.Duration
	Err        error
}

func (e *ClassifiedError) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("%s: %s: %v", e.Dependency, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func NewValidationError(dep string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrClassValidation, Dependency: dep, Err: err}
}

func NewAuthError(dep string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrClassAuth, Dependency: dep, Err: err}
}

func NewRateLimitError(dep string, retryAfter time.Duration, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrClassRateLimit, Dependency: dep, RetryAfter: retryAfter, Err: err}
}

func NewTransientError(dep string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrClassTransient, Dependency: dep, Err: err}
}

func NewCircuitOpenError(dep string) *ClassifiedError {
	return &ClassifiedError{Class: ErrClassCircuitOpen, Dependency: dep, Err: errors.New("circuit open")}
}

func NewTimeoutError(dep string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrClassTimeout, Dependency: dep, Err: err}
}

// ClassOf extracts the error class, mapping context deadline expiry to
// timeout and anything unclassified to transient.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrClassTimeout
	}
	return ErrClassTransient
}

// Retryable reports whether another attempt at the same call can succeed.
// Circuit-open errors are not retried at the call level; the whole job may
// still be retried later under the scheduler's rules.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ErrClassValidation, ErrClassAuth, ErrClassCircuitOpen:
		return false
	default:
		return true
	}
}

// RetryAfterHint returns the server-provided delay for rate-limited errors,
// or zero when there is none.
func RetryAfterHint(err error) time.Duration {
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Class == ErrClassRateLimit {
		return ce.RetryAfter
	}
	return 0
}
