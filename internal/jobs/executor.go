package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor runs job tasks in the background, at most maxConcurrent at a
// time, on a context detached from the request that submitted them.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// NewExecutor creates an Executor. maxConcurrent below 1 is treated as 1.
func NewExecutor(maxConcurrent int) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(max(maxConcurrent, 1))),
	}
}

// Go schedules task. If the executor shuts down before a slot frees up,
// task still runs, with the cancelled context, so it can record the failure.
// A panicking task is logged and recovered.
func (e *Executor) Go(name string, task func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("task panicked", "task", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
		}()

		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			task(e.ctx)
			return
		}
		defer e.sem.Release(1)
		task(e.ctx)
	}()
}

// Wait blocks until every scheduled task has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Shutdown cancels running tasks and waits for them until ctx is done.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}
