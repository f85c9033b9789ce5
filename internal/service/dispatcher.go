package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/cattube/internal/logger"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when the worker pool cannot accept more work.
	ErrQueueFull = errors.New("ingest queue is full")
	// ErrPoolStopped is returned when dispatching to a pool that is not running.
	ErrPoolStopped = errors.New("worker pool is not running")
)

// Task is a unit of background work.
type Task func(ctx context.Context)

// Dispatcher runs tasks in the background.
type Dispatcher interface {
	Dispatch(name string, task Task) error
}

// WorkerPool runs every task on its own goroutine, so a batch that polls for
// hours never delays the tasks dispatched after it. At most maxTasks run at
// once; gateway call concurrency is bounded separately by the Coordinator.
type WorkerPool struct {
	maxTasks int
	slots    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
	stopped bool

	active atomic.Int64
}

// NewWorkerPool creates a pool; call Start before dispatching.
func NewWorkerPool(maxTasks int) *WorkerPool {
	if maxTasks < 1 {
		maxTasks = 1
	}
	return &WorkerPool{
		maxTasks: maxTasks,
		slots:    semaphore.NewWeighted(int64(maxTasks)),
	}
}

// Start opens the pool. Tasks receive a context derived from ctx that is
// also cancelled when Stop gives up waiting.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	p.ctx, p.cancel = context.WithCancel(logger.SetComponent(ctx, "worker-pool"))
	p.running = true
	logger.CtxInfo(p.ctx, "Starting worker pool for up to %d tasks", p.maxTasks)
}

// Dispatch starts task without blocking, or returns ErrQueueFull when
// maxTasks are already running.
func (p *WorkerPool) Dispatch(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}
	if !p.slots.TryAcquire(1) {
		return ErrQueueFull
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.slots.Release(1)
		p.run(name, task)
	}()
	return nil
}

func (p *WorkerPool) run(name string, task Task) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(p.ctx).WithField("task", name).Errorf("Task panicked: %v", r)
		}
	}()
	task(p.ctx)
}

// Active returns the number of tasks currently running.
func (p *WorkerPool) Active() int64 {
	return p.active.Load()
}

// Stop stops accepting work and waits for running tasks. After timeout the
// task context is cancelled and Stop waits for tasks to return.
func (p *WorkerPool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.running {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.CtxInfo(p.ctx, "All tasks stopped gracefully")
	case <-time.After(timeout):
		logger.CtxWarn(p.ctx, "Worker pool shutdown timed out, cancelling %d running tasks", p.Active())
		p.cancel()
		<-done
	}
	p.cancel()
}
