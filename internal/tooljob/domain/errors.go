package domain

import "errors"

var (
	// ErrJobNotFound is returned when a tool job cannot be found in the database
	ErrJobNotFound = errors.New("tool job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's
	// already claimed or no longer PENDING
	ErrJobAlreadyClaimed = errors.New("tool job already claimed or not in PENDING status")

	// ErrJobNotDue is returned when a job's process_after lies in the future
	ErrJobNotDue = errors.New("tool job not due for processing yet")

	// ErrUnknownTool is returned when no processor is registered for a job's tool slug
	ErrUnknownTool = errors.New("no processor registered for tool")

	// ErrMaxAttemptsExceeded is returned when a job has exhausted all its attempts
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
