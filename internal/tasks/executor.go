// Package tasks runs fire-and-forget background work with bounded
// concurrency, panic recovery and a way for tests to await completion.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"norruva.org/internal/obs"
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Handle tracks one spawned task.
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the task name given to Spawn.
func (h *Handle) Name() string { return h.name }

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task error once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs tasks on a detached context: they keep request values but
// are never cancelled by the request that spawned them.
type Executor struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewExecutor bounds concurrently running tasks to limit (minimum 1).
func NewExecutor(limit int64) *Executor {
	if limit < 1 {
		limit = 1
	}
	return &Executor{sem: semaphore.NewWeighted(limit)}
}

// Spawn schedules fn and returns immediately.
func (e *Executor) Spawn(ctx context.Context, name string, fn Func) *Handle {
	h := &Handle{name: name, done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		if err := e.sem.Acquire(detached, 1); err != nil {
			h.err = err
			return
		}
		defer e.sem.Release(1)
		obs.BackgroundTasksInFlight.Inc()
		defer obs.BackgroundTasksInFlight.Dec()

		h.err = run(detached, fn)
		if h.err != nil {
			obs.BackgroundTaskFailures.WithLabelValues(name).Inc()
			obs.Error("background task failed", h.err, map[string]any{"task": name})
		}
	}()
	return h
}

// Wait blocks until every task spawned so far has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}
