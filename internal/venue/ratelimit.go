package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuously-refilling rate limiter, adapted from the
// teacher's exchange.TokenBucket: mutex-protected, fractional refill, and a
// context-aware Wait so outbound throttling never blocks a worker past its
// cancellation point.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
}

// NewTokenBucket creates a bucket with the given capacity (burst) and
// refill rate (tokens/sec), starting full.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{tokens: capacity, capacity: capacity, rate: rate, last: time.Now()}
}

// Wait blocks until one token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.tryTake()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (tb *TokenBucket) tryTake() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.last).Seconds()
	tb.last = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}

	deficit := 1 - tb.tokens
	return time.Duration(deficit / tb.rate * float64(time.Second)), false
}

// RateLimiter groups the buckets used by the Destination Venue Adapter's
// outbound calls.
type RateLimiter struct {
	Order  *TokenBucket
	Cancel *TokenBucket
	Query  *TokenBucket
}

// NewRateLimiter builds the default tuning for a destination venue adapter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(10, 5),
		Cancel: NewTokenBucket(10, 5),
		Query:  NewTokenBucket(20, 10),
	}
}
