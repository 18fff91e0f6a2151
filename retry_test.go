package homegraph

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Jitter:         0,
	}
}

func TestRetryerSucceedsAfterTransientFailures(t *testing.T) {
	r := NewRetryer(fastRetryConfig(5))
	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return networkErr("flaky", errors.New("connection reset"))
		}
		return nil
	})
	if result.LastErr != nil {
		t.Fatalf("expected success, got %v", result.LastErr)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestRetryerStopsOnPermanentError(t *testing.T) {
	r := NewRetryer(fastRetryConfig(5))
	calls := 0
	authErr := newSyncError(ErrorKindAuthFailed, "bad credential", nil)
	result := r.Do(context.Background(), func() error {
		calls++
		return authErr
	})
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
	if !errors.Is(result.LastErr, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", result.LastErr)
	}
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	r := NewRetryer(fastRetryConfig(3))
	calls := 0
	result := r.Do(context.Background(), func() error {
		calls++
		return newServerError(503, "still down")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if result.LastErr == nil {
		t.Error("expected last error")
	}
}

func TestRetryerContextCancellation(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: time.Hour, // never elapses
		Jitter:         0,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := r.Do(ctx, func() error {
		return networkErr("down", nil)
	})
	if !errors.Is(result.LastErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.LastErr)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestRetryConvenience(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", networkErr("dial", errors.New("refused")), true},
		{"server 5xx", newServerError(502, "bad gateway"), true},
		{"auth required", newSyncError(ErrorKindAuthRequired, "expired", nil), false},
		{"auth failed", newSyncError(ErrorKindAuthFailed, "rejected", nil), false},
		{"invalid data", newSyncError(ErrorKindInvalidData, "garbage", nil), false},
		{"storage", storageErr("write", errors.New("disk full")), false},
		{"plain error", errors.New("whatever"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}
