package consumer

import (
	"errors"
	"fmt"
	"time"
)

// AuthenticationError means a credential could not be obtained or renewed.
// Not retryable; the supervisor propagates it immediately.
type AuthenticationError struct {
	Principal string
	Err       error
}

func (e *AuthenticationError) Error() string {
	if e.Principal == "" {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("authentication failed for %s: %v", e.Principal, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransientError is a retryable transport failure: network reset, broker
// unavailable. Only these trigger the supervisor's backoff-retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v (transient)", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a non-retryable protocol or configuration failure.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// InvalidOffsetError reports an Advance call whose delivered offset would
// skip past unacknowledged messages. Caller misuse; never retried.
type InvalidOffsetError struct {
	TP        TopicPartition
	Delivered int64
	Next      int64
}

func (e *InvalidOffsetError) Error() string {
	return fmt.Sprintf("invalid offset %d for %s: cursor at %d", e.Delivered, e.TP, e.Next)
}

// AssignmentTimeoutError signals that no partitions were assigned within the
// configured window. An empty-yield signal, not a hard failure: the caller
// decides whether to keep waiting.
type AssignmentTimeoutError struct {
	Wait time.Duration
}

func (e *AssignmentTimeoutError) Error() string {
	return fmt.Sprintf("no partitions assigned within %s", e.Wait)
}

// ErrNoMessage is returned by Conn.Fetch when the per-call wait expires with
// nothing to deliver.
var ErrNoMessage = errors.New("consumer: no message within poll timeout")

// ErrNoCursor is returned by the ledger when the partition's cursor no longer
// exists, typically because the partition was revoked mid-flight.
var ErrNoCursor = errors.New("consumer: no cursor for partition")

func isTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
