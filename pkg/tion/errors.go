package tion

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned for commands withdrawn from the queue before
// dispatch. A dispatched command can no longer be cancelled.
var ErrCancelled = errors.New("command cancelled")

// TransportError is a link-level failure (timeout, link loss, write failure).
// Transport errors are retryable per the device's retry policy.
type TransportError struct {
	Address string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed for %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected payload. Retrying cannot fix a
// decoding mismatch, so protocol errors are never retried.
type ProtocolError struct {
	Address string
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error from %s: %s", e.Address, e.Reason)
}

// ConnectError reports connection establishment failure after the retry
// policy was exhausted. Attempts carries the number of attempts made.
type ConnectError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempts: %v", e.Address, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StaleDataError reports that a caller asked for fresher data than the cache
// holds and the refresh attempt failed. The cached reading, if any, is still
// available to callers that tolerate its age.
type StaleDataError struct {
	Address string
	Age     string
	Err     error
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("no fresh reading from %s (cached age %s): %v", e.Address, e.Age, e.Err)
}

func (e *StaleDataError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error may be fixed by reconnect and retry.
// Protocol errors and cancellations are permanent.
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, ErrCancelled) {
		return false
	}
	return true
}
