package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayCurve(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 1 * time.Second, Factor: 2, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second}, // capped
		{0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.delay(tt.attempt, 0); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2, Jitter: 0.5}

	low := p.delay(1, 0)
	high := p.delay(1, 0.999)
	if low != 100*time.Millisecond {
		t.Errorf("zero-jitter delay = %v", low)
	}
	if high <= low || high > 150*time.Millisecond {
		t.Errorf("jittered delay = %v, want (100ms, 150ms]", high)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}

	calls := 0
	value, err := Retry(context.Background(), p, 5, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if value != "done" || calls != 3 {
		t.Errorf("value = %q, calls = %d", value, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}

	failure := errors.New("still broken")
	_, err := Retry(context.Background(), p, 3, func(int) (int, error) {
		return 0, failure
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("error = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, failure) {
		t.Errorf("error does not carry the last failure: %v", err)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, DefaultPolicy(), 3, func(int) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("fn ran %d times after cancellation", calls)
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly on cancellation")
	}
}

func TestRetrySimple(t *testing.T) {
	calls := 0
	err := RetrySimple(context.Background(), 2, func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}
