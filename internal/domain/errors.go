package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that is
	// no longer in the queued status (duplicate delivery or concurrent worker)
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in queued status")

	// ErrInvalidTransition is returned when a status update finds the job in
	// an unexpected state; terminal states never regress
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrCacheMiss is returned by the result cache when no entry exists for
	// the fingerprint pair
	ErrCacheMiss = errors.New("cache miss")
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
