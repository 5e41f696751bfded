// Package scheduler runs indexed tasks with an explicit concurrency limit.
//
// A Pool carries only configuration. Each call to Each or All gets its own
// semaphore, so two mosaics sharing a Pool with limit 1 still load in
// parallel with each other while their tiles stay sequential.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds how many tasks of one invocation run at once
type Pool struct {
	limit int
}

// NewPool creates a pool; limits below 1 are treated as 1
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{limit: limit}
}

// Limit returns the concurrency limit
func (p *Pool) Limit() int {
	return p.limit
}

// Each runs fn for every index in [0, n) and stops scheduling new tasks after
// the first error, which is returned. Tasks already running see a cancelled
// context.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(p.limit))
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	for i := 0; i < n; i++ {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}
		// Acquire may succeed on a done context
		if runCtx.Err() != nil {
			sem.Release(1)
			break
		}
		g.Go(func() error {
			err := fn(runCtx, i)
			if err != nil {
				// cancel before releasing so the loop never starts another task
				cancel()
			}
			sem.Release(1)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// All runs fn for every index in [0, n) regardless of individual failures
// and returns the per-index errors. Indices never started because ctx ended
// report ctx.Err().
func (p *Pool) All(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n <= 0 {
		return errs
	}

	sem := semaphore.NewWeighted(int64(p.limit))
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			errs[i] = fn(ctx, i)
		}()
	}

	wg.Wait()
	return errs
}
