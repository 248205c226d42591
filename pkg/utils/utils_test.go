package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatIndianAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"999", "999"},
		{"1000", "1,000"},
		{"1234567.891", "12,34,567.89"},
		{"-250000.5", "-2,50,000.5"},
	}
	for _, tt := range tests {
		got := FormatIndianAmount(decimal.RequireFromString(tt.in))
		if got != tt.want {
			t.Errorf("FormatIndianAmount(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}

	start := time.Now()
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, &RetryAfterError{After: 5 * time.Millisecond, Err: errors.New("slow down")}
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v", got, err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("retry-after delay was not used")
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}, func() error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected a single attempt and an error, got calls=%d err=%v", calls, err)
	}
}
