package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLongTaskDoesNotDelayLaterTasks(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	release := make(chan struct{})
	require.NoError(t, pool.Dispatch("index:long", func(ctx context.Context) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}))

	ran := make(chan struct{})
	require.NoError(t, pool.Dispatch("assembly:a1", func(ctx context.Context) { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("assembly task waited for the index batch")
	}
	close(release)
}

func TestDispatchRejectsBeyondMaxTasks(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	release := make(chan struct{})
	block := func(ctx context.Context) { <-release }
	require.NoError(t, pool.Dispatch("a", block))
	require.NoError(t, pool.Dispatch("b", block))
	require.ErrorIs(t, pool.Dispatch("c", block), ErrQueueFull)

	close(release)
	require.Eventually(t, func() bool {
		return pool.Dispatch("d", func(ctx context.Context) {}) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchRequiresRunningPool(t *testing.T) {
	pool := NewWorkerPool(1)
	require.ErrorIs(t, pool.Dispatch("early", func(ctx context.Context) {}), ErrPoolStopped)

	pool.Start(context.Background())
	pool.Stop(time.Second)
	require.ErrorIs(t, pool.Dispatch("late", func(ctx context.Context) {}), ErrPoolStopped)
}

func TestStopCancelsTasksAfterTimeout(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start(context.Background())

	var cancelled atomic.Bool
	started := make(chan struct{})
	require.NoError(t, pool.Dispatch("poll", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}))
	<-started

	pool.Stop(20 * time.Millisecond)
	require.True(t, cancelled.Load())
	require.Zero(t, pool.Active())
}

func TestPanickingTaskDoesNotStopPool(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start(context.Background())
	defer pool.Stop(time.Second)

	require.NoError(t, pool.Dispatch("boom", func(ctx context.Context) { panic("boom") }))
	require.Eventually(t, func() bool {
		return pool.Dispatch("after", func(ctx context.Context) {}) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayCallsShareConcurrencyLimit(t *testing.T) {
	h := newHarness(t, inlineDispatcher{})
	// Leave a single slot free.
	require.NoError(t, h.coord.gatewaySlots.Acquire(context.Background(), int64(h.coord.cfg.GatewayConcurrency)-1))

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = callGateway(context.Background(), h.coord, "get_task", func(ctx context.Context) (struct{}, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return struct{}{}, nil
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), peak.Load())
}

func TestGatewayCallGivesUpWhenNoSlotFrees(t *testing.T) {
	h := newHarness(t, inlineDispatcher{})
	require.NoError(t, h.coord.gatewaySlots.Acquire(context.Background(), int64(h.coord.cfg.GatewayConcurrency)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	_, err := callGateway(ctx, h.coord, "get_task", func(ctx context.Context) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)
}
