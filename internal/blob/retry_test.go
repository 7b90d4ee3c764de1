package blob

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyClassification(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(errors.New("resource temporarily unavailable"), 1) {
		t.Error("expected EAGAIN-style error to be retryable")
	}
	if policy.ShouldRetry(errors.New("open: permission denied"), 1) {
		t.Error("expected permission error to be non-retryable")
	}
	if policy.ShouldRetry(errors.New("timeout"), 4) {
		t.Error("should not retry after max attempts")
	}
	if policy.ShouldRetry(nil, 1) {
		t.Error("nil error should not be retryable")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     200 * time.Millisecond,
	}

	if d := policy.NextDelay(1); d != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %v", d)
	}
	if d := policy.NextDelay(2); d != 100*time.Millisecond {
		t.Errorf("expected 100ms, got %v", d)
	}
	if d := policy.NextDelay(10); d != 200*time.Millisecond {
		t.Errorf("expected cap at 200ms, got %v", d)
	}
}

func TestRetryPolicyExecute(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     time.Millisecond,
	}

	calls := 0
	err := policy.Execute(func() error {
		calls++
		if calls < 2 {
			return errors.New("timeout")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}

	calls = 0
	err = policy.Execute(func() error {
		calls++
		return errors.New("permission denied")
	})
	if err == nil {
		t.Error("expected error for non-retryable failure")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", calls)
	}
}
