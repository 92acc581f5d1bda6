package worker

import "errors"

// ErrInvalidPayload marks a job whose stored params cannot be used
var ErrInvalidPayload = errors.New("invalid job payload")

// RetryableError marks a failure that should put the message back on the queue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err so the pool requeues the message
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
