package llm

import (
	"math"
	"net/http"
	"time"
)

// retryPolicy computes exponential backoff between attempts.
type retryPolicy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func newRetryPolicy(maxRetries int) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return retryPolicy{
		maxAttempts:  maxRetries + 1,
		initialDelay: 500 * time.Millisecond,
		maxDelay:     10 * time.Second,
		multiplier:   2,
	}
}

// delay returns the wait before the given retry.
// Formula: delay = min(initial_delay * (multiplier ^ (attempt-1)), max_delay)
func (p retryPolicy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt-1))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	return time.Duration(d)
}

// shouldRetry decides whether attempt (1-based, already made) is followed by another.
func (p retryPolicy) shouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= p.maxAttempts {
		return false
	}

	// no response at all: network error or timeout
	if statusCode == 0 {
		return err != nil
	}

	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}
