package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
)

// TokenBucket is a per-key token bucket. Acquire waits for a token instead of
// failing, so a throttled reasoning call is delayed rather than turned into a fault.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a limiter with the given burst capacity and refill interval.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire blocks until a token for key is available or ctx ends. A context
// error is reported as a *RateLimitError wrapping the cause.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		wait := tb.take(key)
		if wait == 0 {
			return func() {}, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &RateLimitError{Key: key, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// take consumes a token and returns 0, or returns how long until the next refill.
func (tb *TokenBucket) take(key string) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if refills := int(now.Sub(b.lastRefill) / tb.refillRate); refills > 0 {
		b.tokens = min(b.tokens+refills, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refills) * tb.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return 0
	}
	return b.lastRefill.Add(tb.refillRate).Sub(now)
}

// RateLimitError reports that a token could not be obtained before the caller gave up.
type RateLimitError struct {
	Key string
	Err error
}

func (e *RateLimitError) Error() string {
	return "rate limit wait for " + e.Key + ": " + e.Err.Error()
}

func (e *RateLimitError) Unwrap() error { return e.Err }

var _ ports.RateLimiter = (*TokenBucket)(nil)
