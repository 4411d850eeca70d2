// ratelimit.go implements token-bucket rate limiting for venue REST APIs.
//
// Venues publish per-category limits measured in requests per window. The
// bucket refills continuously rather than in window-sized bursts, which
// keeps a busy adapter just under the hard limit instead of slamming into
// it at each window boundary.
package transport

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuously-refilling rate limiter. Callers block in
// Wait until a token is available or the context is cancelled.
type TokenBucket struct {
	mu     sync.Mutex
	level  float64   // available tokens, fractional
	burst  float64   // bucket capacity
	perSec float64   // refill rate, tokens per second
	at     time.Time // instant level was last recomputed
}

// NewTokenBucket creates a full bucket with the given burst capacity and
// refill rate.
func NewTokenBucket(burst, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		level:  burst,
		burst:  burst,
		perSec: ratePerSecond,
		at:     time.Now(),
	}
}

// take consumes one token if available, otherwise reports how long to sleep
// before the next token exists.
func (tb *TokenBucket) take() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	tb.level = min(tb.burst, tb.level+now.Sub(tb.at).Seconds()*tb.perSec)
	tb.at = now
	if tb.level >= 1 {
		tb.level--
		return 0, true
	}
	return time.Duration((1 - tb.level) / tb.perSec * float64(time.Second)), false
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.take()
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

// RateLimiter groups token buckets by venue endpoint category. The REST
// client consults the bucket matching each request's verb; adapters with
// finer-grained budgets can also call the buckets directly.
type RateLimiter struct {
	Order  *TokenBucket // order placement (POST)
	Cancel *TokenBucket // cancels (DELETE)
	Query  *TokenBucket // market data and account reads (GET)
}

// NewRateLimiter creates buckets for a typical venue budget: capacities are
// the per-window burst allowance, rates the smooth refill.
func NewRateLimiter(orderBurst, orderRate, cancelBurst, cancelRate, queryBurst, queryRate float64) *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(orderBurst, orderRate),
		Cancel: NewTokenBucket(cancelBurst, cancelRate),
		Query:  NewTokenBucket(queryBurst, queryRate),
	}
}
