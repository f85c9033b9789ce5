package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"fixed", Policy{Backoff: BackoffFixed, InitialDelay: time.Second}, 3, time.Second},
		{"linear", Policy{Backoff: BackoffLinear, InitialDelay: time.Second}, 3, 3 * time.Second},
		{"exponential", Policy{Backoff: BackoffExponential, InitialDelay: time.Second, Multiplier: 2}, 3, 4 * time.Second},
		{"exponential capped", Policy{Backoff: BackoffExponential, InitialDelay: time.Second, MaxDelay: 3 * time.Second}, 5, 3 * time.Second},
		{"first attempt", Policy{Backoff: BackoffFixed, InitialDelay: time.Second}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestPolicyDelayJitterStaysInBounds(t *testing.T) {
	p := Policy{Backoff: BackoffFixed, InitialDelay: time.Second, JitterFactor: 0.25}
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		require.GreaterOrEqual(t, d, 750*time.Millisecond)
		require.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var retries []int
	got, err := Do(context.Background(), Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", errors.New("unavailable")
		}
		return "ok", nil
	}, func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, []int{1, 2}, retries)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	rejected := errors.New("rejected")
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Permanent(rejected)
	}, nil)
	require.ErrorIs(t, err, rejected)
	require.False(t, IsPermanent(err))
	require.Equal(t, 1, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 2}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("still down")
	}, nil)
	require.EqualError(t, err, "still down")
	require.Equal(t, 2, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, Policy{MaxAttempts: 5, Backoff: BackoffFixed, InitialDelay: time.Hour}, func(ctx context.Context, attempt int) (int, error) {
		cancel()
		return 0, errors.New("down")
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
