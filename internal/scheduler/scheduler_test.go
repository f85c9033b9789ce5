package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunRejectsBadSchedule(t *testing.T) {
	s := New(Job{Name: "sweep", Schedule: "not a cron", Run: func(context.Context) error { return nil }})
	err := s.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "sweep")
}

func TestRunStopsWithContext(t *testing.T) {
	s := New(
		Job{Name: "sweep", Schedule: "*/10 * * * *", Run: func(context.Context) error { return nil }},
		Job{Name: "reconcile", Run: func(context.Context) error { return nil }},
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunJobSkipsAfterShutdown(t *testing.T) {
	called := false
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.runJob(ctx, Job{Name: "x", Run: func(context.Context) error { called = true; return errors.New("boom") }})
	require.False(t, called)

	s.runJob(context.Background(), Job{Name: "x", Run: func(ctx context.Context) error {
		called = true
		_, ok := ctx.Deadline()
		require.True(t, ok)
		return nil
	}})
	require.True(t, called)
}
