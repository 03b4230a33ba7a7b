package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// RateLimiter serializes dispatches and keeps a minimum interval between them.
// One instance is shared by every DM call site.
type RateLimiter struct {
	sem      *semaphore.Weighted
	mu       sync.Mutex // guards last
	last     time.Time
	interval time.Duration
}

// NewRateLimiter creates a limiter enforcing interval between dispatches
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{sem: semaphore.NewWeighted(1), interval: interval}
}

// Do waits for its turn and for the interval to elapse since the previous
// dispatch, then runs fn. At most one fn runs at a time. If ctx ends while
// waiting, fn is not run.
func (r *RateLimiter) Do(ctx context.Context, fn func() error) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	if wait := time.Until(r.next()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := fn()

	r.mu.Lock()
	r.last = time.Now()
	r.mu.Unlock()
	return err
}

func (r *RateLimiter) next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Add(r.interval)
}

// Hold pushes the next dispatch back by at least d from now
func (r *RateLimiter) Hold(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if until := time.Now().Add(d); until.After(r.last) {
		r.last = until
	}
}
