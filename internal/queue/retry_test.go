package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDecideExponentialBackoff(t *testing.T) {
	policy := DefaultRetryPolicy()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		attempts int
		maxTries int
		want     time.Duration
	}{
		{attempts: 1, maxTries: 5, want: 1 * time.Minute},
		{attempts: 2, maxTries: 5, want: 2 * time.Minute},
		{attempts: 3, maxTries: 5, want: 4 * time.Minute},
		{attempts: 4, maxTries: 5, want: 8 * time.Minute},
	}

	for _, c := range cases {
		retry, at := policy.Decide(now, c.attempts, c.maxTries)
		assert.True(t, retry)
		assert.Equal(t, now.Add(c.want), at)
	}
}

func TestRetryPolicyDecideStopsAtMaxTries(t *testing.T) {
	policy := DefaultRetryPolicy()
	now := time.Now().UTC()

	retry, at := policy.Decide(now, 5, 5)
	assert.False(t, retry)
	assert.True(t, at.IsZero())
}

func TestRetryPolicyDecideCapsAtMaxBackoff(t *testing.T) {
	policy := RetryPolicy{BackoffBase: time.Minute, MaxBackoff: 10 * time.Minute}
	now := time.Now().UTC()

	retry, at := policy.Decide(now, 10, 20)
	assert.True(t, retry)
	assert.Equal(t, now.Add(10*time.Minute), at)
}
