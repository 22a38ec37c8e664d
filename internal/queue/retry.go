package queue

import "time"

// RetryPolicy governs the interval computed by TimeUntilNextRetry and the
// queue a retried job is placed back onto.
type RetryPolicy struct {
	// BackoffCoefficient is the exponent base. 0 collapses the schedule to
	// InitialInterval at attempt 0 (see intPow's 0^0=1 convention) and to 0
	// at every later attempt.
	BackoffCoefficient int
	InitialInterval    time.Duration
	// MaximumInterval caps the computed interval. Zero means unbounded.
	MaximumInterval time.Duration
	// RetryQueue names the queue a retried job is re-enqueued onto. Empty
	// means "the same queue it was dequeued from".
	RetryQueue string
}

// TimeUntilNextRetry folds the exponential backoff schedule together with a
// caller-preferred interval (for example a webhook response's Retry-After
// header) and the policy's maximum. preferred is a floor, never an
// override: a caller-preferred interval can only push the wait longer than
// the computed backoff, never shorter, and the maximum always has the final
// say, per this table:
//
//   - preferred <= 0, no maximum:  computed backoff
//   - preferred <= 0, maximum set: min(computed backoff, maximum)
//   - preferred > 0,  no maximum:  max(computed backoff, preferred)
//   - preferred > 0,  maximum set: min(max(min(computed backoff, maximum), preferred), maximum)
//
// attempt is the job's current Attempt count, which Dequeue has already
// incremented (1 on the first retry).
func (p RetryPolicy) TimeUntilNextRetry(attempt int, preferred time.Duration) time.Duration {
	backoff := p.computeBackoff(attempt)

	if preferred <= 0 {
		if p.MaximumInterval > 0 && backoff > p.MaximumInterval {
			return p.MaximumInterval
		}
		return backoff
	}

	if p.MaximumInterval <= 0 {
		if preferred > backoff {
			return preferred
		}
		return backoff
	}

	candidate := backoff
	if candidate > p.MaximumInterval {
		candidate = p.MaximumInterval
	}
	if preferred > candidate {
		candidate = preferred
	}
	if candidate > p.MaximumInterval {
		candidate = p.MaximumInterval
	}
	return candidate
}

func (p RetryPolicy) computeBackoff(attempt int) time.Duration {
	factor := intPow(int64(p.BackoffCoefficient), attempt)
	return time.Duration(int64(p.InitialInterval) * factor)
}

// intPow computes base^exp for non-negative exp, honoring 0^0 = 1 so that a
// zero BackoffCoefficient still yields InitialInterval on the first attempt.
func intPow(base int64, exp int) int64 {
	if exp <= 0 {
		return 1
	}
	result := int64(1)
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// RetryQueueName resolves the queue a retried job lands on: the policy's
// configured RetryQueue, or current when unset.
func (p RetryPolicy) RetryQueueName(current string) string {
	if p.RetryQueue == "" {
		return current
	}
	return p.RetryQueue
}
