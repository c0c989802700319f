// Package retry wraps cenkalti/backoff/v4 with the bounded retry policies
// the storage engine needs around its two known races (spec §9): the
// content-index append race, and reclaiming a stale ".new" file out from
// under a writer that turned out to still be alive.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures a bounded exponential backoff.
type Policy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
	MaxRetries      uint64
}

func (p Policy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxElapsed > 0 {
		b.MaxElapsedTime = p.MaxElapsed
	}
	retries := p.MaxRetries
	if retries == 0 {
		retries = 10
	}
	return backoff.WithMaxRetries(b, retries)
}

// ContentIndexAppend is the policy used around a content-index
// lookup-then-append cycle: a handful of fast retries, since the only
// thing it is waiting on is another local process finishing one append
// (spec §9: "re-read the file if its mtime changed since it was read").
var ContentIndexAppend = Policy{InitialInterval: 5 * time.Millisecond, MaxElapsed: 2 * time.Second, MaxRetries: 20}

// StaleNewReclaim is a slower, more patient backoff policy for waiting out
// a dead writer's lock on a ".new" file found stale by mtime. Nothing in
// this module calls Do with it: storage.StartSnapshot removes a stale
// ".new" file in a single attempt.
var StaleNewReclaim = Policy{InitialInterval: 50 * time.Millisecond, MaxElapsed: 5 * time.Second, MaxRetries: 10}

// Do runs fn under policy p, retrying while fn returns an error for which
// retryable(err) is true. It stops at the first non-retryable error, or
// when the policy is exhausted, returning fn's last error in either case.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func() error) error {
	var lastErr error
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(p.backoff(), ctx)); err != nil && lastErr == nil {
		return err
	}
	return lastErr
}
