// Package workerpool provides lightweight bounded parallel execution for
// the storage façade's object re-verification (pkg/storage.Verify) and the
// mirror engine's object copy (pkg/mirror), generalizing the teacher's
// pure-goroutine, cancellation-aware pattern
// (pkg/infrastructure/workers.SimpleWorkerPool in the reference corpus) to
// a generic helper with a concurrency cap, since unlike in-memory XOR
// work, re-hashing and copying object bodies is I/O-bound and benefits
// from one.
package workerpool

import (
	"context"
	"fmt"
	"sync"
)

// Pool runs bounded-parallel work over a slice of items. A zero-value
// Pool with Concurrency == 0 behaves like the teacher's SimpleWorkerPool:
// one goroutine per item, trusting the Go scheduler.
type Pool struct {
	// Concurrency caps how many items run at once. 0 means unbounded.
	Concurrency int
}

// New returns a Pool capped at concurrency goroutines.
func New(concurrency int) *Pool {
	return &Pool{Concurrency: concurrency}
}

// Run calls fn(ctx, items[i]) for every item, in parallel up to p's
// concurrency cap, and collects the results in input order. It returns
// the first error encountered (by index, not by completion order) and
// stops issuing new work once ctx is canceled; work already started is
// allowed to finish.
func Run[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var sem chan struct{}
	if p != nil && p.Concurrency > 0 {
		sem = make(chan struct{}, p.Concurrency)
	}

	var wg sync.WaitGroup
	for i, item := range items {
		select {
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		default:
		}

		wg.Add(1)
		go func(index int, it T) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			select {
			case <-ctx.Done():
				errs[index] = ctx.Err()
				return
			default:
			}
			r, err := fn(ctx, it)
			if err != nil {
				errs[index] = fmt.Errorf("item %d: %w", index, err)
				return
			}
			results[index] = r
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
