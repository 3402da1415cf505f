// Package executor provides a worker pool and a one-shot scheduler.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool submits short units of work to a bounded or unbounded set of
// goroutines. A zero-valued maxConcurrency (via New(0)) means unbounded:
// every Submit spawns its own goroutine, matching the teacher's
// `go s.handleConnection(conn)` dispatch. A positive maxConcurrency
// gates admission with a semaphore so a burst of connections can't spawn
// unbounded goroutines under load.
type Pool struct {
	sem *semaphore.Weighted // nil when unbounded
	wg  sync.WaitGroup
}

// New creates a Pool. maxConcurrency <= 0 means unbounded.
func New(maxConcurrency int) *Pool {
	p := &Pool{}
	if maxConcurrency > 0 {
		p.sem = semaphore.NewWeighted(int64(maxConcurrency))
	}
	return p
}

// Submit runs fn on a worker goroutine. If the pool is bounded and at
// capacity, Submit blocks until a slot frees or ctx is cancelled, in
// which case it returns ctx.Err() without running fn.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			defer p.sem.Release(1)
		}
		fn()
	}()
	return nil
}

// TrySubmit runs fn immediately if a slot is free, returning false
// without blocking otherwise.
func (p *Pool) TrySubmit(fn func()) bool {
	if p.sem != nil {
		if !p.sem.TryAcquire(1) {
			return false
		}
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			defer p.sem.Release(1)
		}
		fn()
	}()
	return true
}

// Wait blocks until every goroutine submitted via Submit/TrySubmit has
// returned. Used during graceful Connector/Server shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}
