package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 2}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("connection reset")
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 2}, func(ctx context.Context) error {
		calls++
		return boom
	})
	if !IsExhausted(err) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 2}, func(ctx context.Context) error {
		calls++
		return errors.New("400 bad request")
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if IsExhausted(err) {
		t.Fatalf("fatal error should not be wrapped as exhausted")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for a fatal error, got %d", calls)
	}
}
