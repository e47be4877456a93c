// Package executor provides the bounded background executor used for
// best-effort asynchronous work: tier promotion copies and persistent
// write-through.
package executor

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Executor runs submitted tasks on at most maxWorkers concurrent
// goroutines. Submissions beyond the bound are rejected rather than
// queued: every caller treats rejection as a dropped best-effort task.
type Executor struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an executor with the given concurrency bound. Bounds below
// one are normalized to one.
func New(maxWorkers int64) *Executor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Executor{sem: semaphore.NewWeighted(maxWorkers)}
}

// Submit runs task on a worker goroutine. It returns false without
// running the task if the executor is stopped or all workers are busy.
func (e *Executor) Submit(task func()) bool {
	if e.closed.Load() {
		return false
	}
	if !e.sem.TryAcquire(1) {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		task()
	}()
	return true
}

// Stop rejects further submissions and waits for running tasks to finish.
func (e *Executor) Stop() {
	e.closed.Store(true)
	e.wg.Wait()
}

// Inline is an executor that runs every task synchronously on the calling
// goroutine. Tests use it to make promotion deterministic.
type Inline struct{}

// Submit runs task immediately.
func (Inline) Submit(task func()) bool {
	task()
	return true
}

// Stop is a no-op.
func (Inline) Stop() {}
