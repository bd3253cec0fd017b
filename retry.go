package zk

import (
	"errors"
	"time"
)

// maxRetryShift keeps base << attempt from overflowing.
const maxRetryShift = 29

// RetryPolicy decides how Client re-issues requests failed by a connection
// loss. The zero value never retries. Only ErrConnectionLoss is retried,
// every other error reaches the callback unchanged.
type RetryPolicy struct {
	MaxRetries int
	BaseSleep  time.Duration

	// MaxSleep caps the backoff, the session timeout is used when zero.
	MaxSleep time.Duration
}

// NewExponentialBackoffRetry sleeps base * 2^n before the retry number n,
// bounded by maxSleep.
func NewExponentialBackoffRetry(base time.Duration, maxRetries int, maxSleep time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseSleep:  base,
		MaxSleep:   maxSleep,
	}
}

// RetryNTimes retries n times with a fixed sleep.
func RetryNTimes(n int, sleep time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: n,
		BaseSleep:  sleep,
		MaxSleep:   sleep,
	}
}

func (p RetryPolicy) allowRetry(attempt int, err error) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	return errors.Is(err, ErrConnectionLoss)
}

func (p RetryPolicy) backoff(attempt int, sessionTimeout time.Duration) time.Duration {
	maxSleep := p.MaxSleep
	if maxSleep <= 0 {
		maxSleep = sessionTimeout
	}

	shift := attempt
	if shift > maxRetryShift {
		shift = maxRetryShift
	}

	d := p.BaseSleep << uint(shift)
	if d < 0 || d > maxSleep {
		return maxSleep
	}
	return d
}
