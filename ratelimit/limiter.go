// Package ratelimit provides per-source token-bucket rate limiting for the
// paper-acquisition clients.
//
// Each bibliographic source owns one bucket of capacity rate×burst refilling
// continuously at rate tokens/sec. Refill is computed from elapsed time on a
// monotonic clock (golang.org/x/time/rate semantics), never by a timer task.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket for one source.
//
// Acquire blocks until the requested tokens are available and reports how
// long the caller waited. TryAcquire never blocks. Both are safe for
// concurrent use; waiters are served FIFO under the bucket's internal lock.
type Limiter struct {
	source string
	bucket *rate.Limiter

	mu        sync.Mutex
	made      uint64
	throttled uint64
}

// Stats is an observability snapshot of a limiter.
type Stats struct {
	Source            string
	RequestsMade      uint64
	RequestsThrottled uint64
	Rate              float64
	Burst             int
}

// NewLimiter creates a bucket refilling at perSecond tokens/sec with
// capacity perSecond×burstMultiplier (minimum 1 token).
func NewLimiter(source string, perSecond, burstMultiplier float64) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burstMultiplier <= 0 {
		burstMultiplier = 1
	}
	burst := int(math.Ceil(perSecond * burstMultiplier))
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		source: source,
		bucket: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Acquire takes n tokens, waiting as long as necessary. It returns the time
// spent waiting. The wait is cancellable through ctx; on cancellation the
// reservation is returned to the bucket.
func (l *Limiter) Acquire(ctx context.Context, n int) (time.Duration, error) {
	if n < 1 {
		n = 1
	}
	res := l.bucket.ReserveN(time.Now(), n)
	if !res.OK() {
		return 0, fmt.Errorf("ratelimit %s: request of %d tokens exceeds bucket capacity %d", l.source, n, l.bucket.Burst())
	}

	delay := res.Delay()
	l.mu.Lock()
	l.made++
	if delay > 0 {
		l.throttled++
	}
	l.mu.Unlock()

	if delay == 0 {
		return 0, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return delay, nil
	case <-ctx.Done():
		res.Cancel()
		return 0, ctx.Err()
	}
}

// TryAcquire takes n tokens only if they are immediately available.
func (l *Limiter) TryAcquire(n int) bool {
	if n < 1 {
		n = 1
	}
	ok := l.bucket.AllowN(time.Now(), n)
	l.mu.Lock()
	l.made++
	if !ok {
		l.throttled++
	}
	l.mu.Unlock()
	return ok
}

// Source returns the source key this limiter throttles.
func (l *Limiter) Source() string { return l.source }

// Stats returns a snapshot of the limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Source:            l.source,
		RequestsMade:      l.made,
		RequestsThrottled: l.throttled,
		Rate:              float64(l.bucket.Limit()),
		Burst:             l.bucket.Burst(),
	}
}
