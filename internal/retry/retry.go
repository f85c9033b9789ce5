// Package retry runs gateway calls under a bounded backoff policy.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/timmy/cattube/internal/config"
)

// Backoff identifies how the delay grows between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      Backoff
	Multiplier   float64
	// JitterFactor spreads each delay by up to +/- this fraction.
	JitterFactor float64
}

// DefaultPolicy returns four attempts with exponential backoff from one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Backoff:      BackoffExponential,
		Multiplier:   2,
		JitterFactor: 0.25,
	}
}

// NoRetry runs an operation exactly once.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// FromConfig builds a Policy from the ingest retry settings.
func FromConfig(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Backoff:      Backoff(cfg.Strategy),
		Multiplier:   cfg.Multiplier,
	}
	if cfg.Jitter {
		p.JitterFactor = 0.25
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.Backoff {
	case BackoffLinear:
		delay = p.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		m := p.Multiplier
		if m <= 1 {
			m = 2
		}
		delay = time.Duration(float64(p.InitialDelay) * math.Pow(m, float64(attempt-1)))
	default:
		delay = p.InitialDelay
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.JitterFactor > 0 {
		jitter := float64(delay) * p.JitterFactor * (rand.Float64()*2 - 1)
		delay = time.Duration(float64(delay) + jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
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

// Func is one attempt of a retried operation; attempt starts at 1.
type Func[T any] func(ctx context.Context, attempt int) (T, error)

// OnRetry is called after a failed attempt that will be retried.
type OnRetry func(attempt int, err error, delay time.Duration)

// Do runs fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is done. The last error is returned unwrapped.
func Do[T any](ctx context.Context, p Policy, fn Func[T], onRetry OnRetry) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}
