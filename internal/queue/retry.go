package queue

import (
	"math"
	"time"
)

// RetryPolicy decides whether a failed job gets another attempt and, if so,
// when. It is pure and has no store or clock dependency beyond the now
// argument, so it is trivially unit-testable.
type RetryPolicy struct {
	// BackoffBase is the unit the exponential backoff is measured in.
	// Grounded in the Python original's `2 ** (attempts - 1)` minutes.
	BackoffBase time.Duration

	// MaxBackoff caps the computed delay so a job with a very high
	// MaxTries doesn't get scheduled years out.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy matches the Python original: backoff measured in
// minutes, capped at 24 hours.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BackoffBase: time.Minute,
		MaxBackoff:  24 * time.Hour,
	}
}

// Decide returns whether job should be retried given its current Attempts
// and MaxTries, and if so, the time it should next become eligible for
// claiming. attempts is the count AFTER the failed attempt (i.e. the value
// Store.ClaimNext already incremented).
func (p RetryPolicy) Decide(now time.Time, attempts, maxTries int) (retry bool, retryAt time.Time) {
	if attempts >= maxTries {
		return false, time.Time{}
	}
	delay := p.backoff(attempts)
	return true, now.Add(delay)
}

// backoff computes 2^(attempts-1) * BackoffBase, capped at MaxBackoff.
func (p RetryPolicy) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	exp := math.Pow(2, float64(attempts-1))
	delay := time.Duration(exp) * p.BackoffBase
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
