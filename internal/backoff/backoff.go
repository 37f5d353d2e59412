// Package backoff retries calls to decision-process backends with
// exponential backoff and jitter.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is wrapped into the error returned when every attempt
// failed with a retryable error.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy describes the delay before each retry.
type Policy struct {
	Initial time.Duration `yaml:"initial" json:"initial"`
	Max     time.Duration `yaml:"max" json:"max"`
	Factor  float64       `yaml:"factor" json:"factor"`

	// Jitter adds up to Jitter*delay of random extra wait, 0..1.
	Jitter float64 `yaml:"jitter" json:"jitter"`

	// Attempts is the total number of calls, including the first.
	Attempts int `yaml:"attempts" json:"attempts"`
}

// DefaultPolicy is tuned for rate-limited model APIs: 500ms, 1s, 2s.
func DefaultPolicy() Policy {
	return Policy{
		Initial:  500 * time.Millisecond,
		Max:      8 * time.Second,
		Factor:   2,
		Jitter:   0.1,
		Attempts: 3,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func (p Policy) delay(attempt int, r float64) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*clamp01(p.Jitter)*r
	if p.Max > 0 {
		total = math.Min(total, float64(p.Max))
	}
	return time.Duration(total).Round(time.Millisecond)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a permanent error, the context
// ends, or the policy's attempts run out. The returned error wraps the last
// failure.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if IsPermanent(err) {
			var p *permanentError
			errors.As(err, &p)
			return zero, p.err
		}
		lastErr = err
		if attempt < attempts {
			if err := Sleep(ctx, p.Delay(attempt)); err != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}

// Sleep waits for d or until ctx ends, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
