package venue

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket for outbound REST calls. Tokens refill at
// rate per second and accumulate up to burst.
type RateLimiter struct {
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests
// with bursts up to burst.
func NewRateLimiter(perSecond, burst float64) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:   perSecond,
		burst:  burst,
		tokens: burst,
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Allow reports whether a token is available right now, consuming it if so.
func (rl *RateLimiter) Allow() bool {
	return rl.take()
}

func (rl *RateLimiter) take() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens += now.Sub(rl.last).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}
