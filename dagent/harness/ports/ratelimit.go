package harnessports

import "context"

// RateLimiter throttles calls to the reasoning provider per key.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
