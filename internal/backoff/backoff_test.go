package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		rand    float64
		want    time.Duration
	}{
		{"first", Policy{Initial: 100 * time.Millisecond, Factor: 2}, 1, 0.5, 100 * time.Millisecond},
		{"third", Policy{Initial: 100 * time.Millisecond, Factor: 2}, 3, 0.5, 400 * time.Millisecond},
		{"zero attempt", Policy{Initial: 100 * time.Millisecond, Factor: 2}, 0, 0, 100 * time.Millisecond},
		{"clamped", Policy{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond, Factor: 2}, 5, 0, 300 * time.Millisecond},
		{"jitter", Policy{Initial: 200 * time.Millisecond, Factor: 2, Jitter: 0.5}, 1, 1, 300 * time.Millisecond},
		{"jitter clamped to one", Policy{Initial: 100 * time.Millisecond, Factor: 1, Jitter: 3}, 1, 1, 200 * time.Millisecond},
		{"factor below one", Policy{Initial: 100 * time.Millisecond, Factor: 0.5}, 4, 0, 100 * time.Millisecond},
		{"no initial", Policy{Factor: 2}, 3, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.delay(tt.attempt, tt.rand); got != tt.want {
				t.Errorf("delay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayJitterRange(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Factor: 2, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		got := p.Delay(1)
		if got < 100*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("Delay() = %v, want within [100ms, 120ms]", got)
		}
	}
}

func fastPolicy(attempts int) Policy {
	return Policy{Initial: time.Millisecond, Factor: 1, Attempts: attempts}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(3), func(_ context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("rate limited")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("Retry() = %q after %d calls", got, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	cause := errors.New("overloaded")
	_, err := Retry(context.Background(), fastPolicy(2), func(context.Context, int) (int, error) {
		return 0, cause
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("error = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, should wrap the last failure", err)
	}
}

func TestRetryPermanent(t *testing.T) {
	cause := errors.New("bad request")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(5), func(context.Context, int) (int, error) {
		calls++
		return 0, Permanent(cause)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != cause {
		t.Errorf("error = %v, want the unwrapped cause", err)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastPolicy(3), func(context.Context, int) (int, error) {
		t.Fatal("fn should not be called")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancel")
	}
}
