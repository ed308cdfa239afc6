package allocation

import (
	"context"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts <= 1 {
		t.Fatalf("unexpected MaxAttempts: %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay <= 0 || cfg.MaxDelay <= 0 {
		t.Fatalf("delays must be positive: %+v", cfg)
	}
	if cfg.BackoffFactor <= 1 {
		t.Fatalf("backoff factor should be > 1: %f", cfg.BackoffFactor)
	}
}

func TestRetryConfig_NormalizedAndNext(t *testing.T) {
	cfg := RetryConfig{}.normalized()
	if cfg.MaxAttempts != DefaultRetryConfig().MaxAttempts {
		t.Fatalf("expected default attempts, got %d", cfg.MaxAttempts)
	}

	cfg = RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, BackoffFactor: 2}
	if got := cfg.next(10 * time.Millisecond); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms, got %s", got)
	}
	if got := cfg.next(20 * time.Millisecond); got != 25*time.Millisecond {
		t.Fatalf("expected cap 25ms, got %s", got)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Second); err == nil {
		t.Fatal("expected context error")
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
