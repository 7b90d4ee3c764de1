package blob

import (
	"math"
	"strings"
	"time"
)

// RetryPolicy controls how failed store operations are retried with
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the policy used for blob I/O:
// 3 attempts, 50ms initial delay, 2x multiplier, 1s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     1 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxAttempts {
		return false
	}
	return p.isRetryable(err)
}

// isRetryable classifies errors as transient or permanent based on their
// message. Unknown errors default to retryable.
func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "resource temporarily unavailable") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "interrupted system call") {
		return true
	}

	if strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "read-only file system") {
		return false
	}

	return true
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries with
// exponential backoff. Returns nil on success or the last error if all
// attempts fail or the error is non-retryable.
func (p *RetryPolicy) Execute(fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if attempt < p.MaxAttempts {
			time.Sleep(p.NextDelay(attempt))
		}
	}
	return lastErr
}
