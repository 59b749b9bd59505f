package http

import (
	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// rateLimiter caps inbound frames per connection: a bucket of limit tokens
// refilled at limit per minute. It is owned by the connection's read
// goroutine.
type rateLimiter struct {
	bucket *rate.Limiter
	clock  clock.Clock
}

func newRateLimiter(limit int, clk clock.Clock) *rateLimiter {
	if limit <= 0 {
		return nil
	}
	if clk == nil {
		clk = clock.New()
	}
	return &rateLimiter{
		bucket: rate.NewLimiter(rate.Limit(float64(limit)/60), limit),
		clock:  clk,
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.bucket.AllowN(r.clock.Now(), 1)
}
