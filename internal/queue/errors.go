package queue

import (
	"errors"
	"fmt"
)

// PoolCreationError wraps a failure to construct the connection pool
// itself. Unlike ConnectionError it is fatal: a process that cannot build
// its pool has nothing to retry against and should exit at startup.
type PoolCreationError struct {
	Err error
}

func (e *PoolCreationError) Error() string { return fmt.Sprintf("queue: pool creation failed: %v", e.Err) }
func (e *PoolCreationError) Unwrap() error { return e.Err }

// ConnectionError wraps a transient failure acquiring or using a pooled
// connection. Callers should log it and retry after a backoff rather than
// treat it as fatal.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("queue: connection error: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError wraps any SQL failure other than a connection failure or a
// RowNotFound on a bulk dequeue (which is not an error at all, see Dequeue).
type QueryError struct {
	Command string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("queue: query error running %s: %v", e.Command, e.Err)
}
func (e *QueryError) Unwrap() error { return e.Err }

// TransactionError wraps a commit or rollback failure on a shared
// transaction. The outcome of the jobs in that batch is uncertain and must
// be logged with their job ids by the caller.
type TransactionError struct {
	Command string
	Err     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("queue: transaction error during %s: %v", e.Command, e.Err)
}
func (e *TransactionError) Unwrap() error { return e.Err }

// ErrTransactionAlreadyClosed is returned by a TransactionLease finalizer
// when the shared transaction it belongs to has already been committed,
// rolled back, or invalidated by a sibling lease's failed finalizer.
var ErrTransactionAlreadyClosed = errors.New("queue: shared transaction already closed")

// RetryInvalidError is returned when Retry is called on a job whose attempt
// count has reached max_attempts. Lease is the same still-usable handle the
// caller invoked Retry on, carried in the error so the caller can demote
// the retry to a Fail without re-dequeuing anything.
type RetryInvalidError struct {
	Lease       LeaseHandle
	Attempt     int
	MaxAttempts int
}

func (e *RetryInvalidError) Error() string {
	return fmt.Sprintf("queue: retry invalid: attempt %d has reached max_attempts %d", e.Attempt, e.MaxAttempts)
}

// ParseJobStatusError indicates a status column value outside the known
// enumeration, a schema-drift condition.
type ParseJobStatusError struct {
	Value string
}

func (e *ParseJobStatusError) Error() string {
	return fmt.Sprintf("queue: unrecognized job status %q", e.Value)
}

// ParseHTTPMethodError indicates a webhook job whose parameters name an HTTP
// method this system will not send.
type ParseHTTPMethodError struct {
	Value string
}

func (e *ParseHTTPMethodError) Error() string {
	return fmt.Sprintf("queue: unsupported HTTP method %q", e.Value)
}
