// Package dispatcher performs the outbound webhook HTTP call and classifies
// its outcome into complete, retryable-failure, or permanent-failure, the
// three verdicts the webhook worker needs to drive a LeaseHandle.
package dispatcher

import (
	"context"
	"time"
)

// Result is what a Dispatcher reports back for one job.
type Result struct {
	// StatusCode is the HTTP response status, or zero if the request never
	// got a response (connection refused, timeout, DNS failure).
	StatusCode int
	// RetryAfter is the caller-preferred backoff parsed from the response's
	// Retry-After header, or zero if absent or unparsable.
	RetryAfter int64 // seconds
}

// RetryAfterDuration converts RetryAfter into the time.Duration
// queue.RetryPolicy.TimeUntilNextRetry expects as its preferred interval.
func (r Result) RetryAfterDuration() time.Duration {
	return time.Duration(r.RetryAfter) * time.Second
}

// Dispatcher performs one webhook delivery attempt. target and payload come
// from the job row. Dispatch classifies the outcome: a nil error means
// success, and a failure is reported as a *RetryableError or a
// *NonRetryableError, which the caller routes to retry or fail.
type Dispatcher interface {
	Dispatch(ctx context.Context, target string, payload []byte) (Result, error)
}

// RetryableError marks a dispatch failure that is worth retrying: network
// errors, timeouts, and 408/429/5xx responses.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// NonRetryableError marks a dispatch failure that will never succeed on
// retry: 4xx responses other than 408 and 429, or a target the dispatcher refuses
// to call (e.g. an unparsable URL or disallowed method).
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }
