package client

import (
	"errors"
	"fmt"
)

var (
	// ErrPollInFlight is returned when a sync cycle is requested while another one is running.
	ErrPollInFlight = errors.New("poll is in flight")
	// ErrHistoryExhausted is returned for a direction which has reported no more pages.
	ErrHistoryExhausted = errors.New("history exhausted")
	// ErrSessionClosed is returned once the Session is stopped.
	ErrSessionClosed = errors.New("session closed")
	// ErrActionsNotSupported is returned if the Transport can't send visitor actions.
	ErrActionsNotSupported = errors.New("transport does not support actions")
)

// RetryableError is a transport or decoding failure that left the session state untouched.
type RetryableError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	var rErr *RetryableError
	return errors.As(err, &rErr)
}
