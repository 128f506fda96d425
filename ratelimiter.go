package qprep

import (
	"context"
	"sync"
	"time"
)

/*
RateLimiter is a token bucket in front of engine submissions. Every call
takes a token; tokens come back one per refillRate up to maxTokens, so
short bursts go through and sustained load is paced.
*/
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	metrics    *Metrics
}

func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	if maxTokens < 1 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = time.Millisecond
	}
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (rl *RateLimiter) Observe(metrics *Metrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = metrics
}

// Limit takes a token if one is available and reports false, otherwise true.
func (rl *RateLimiter) Limit() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return false
	}
	if rl.metrics != nil {
		rl.metrics.mu.Lock()
		rl.metrics.RateLimitHits++
		rl.metrics.mu.Unlock()
	}
	return true
}

func (rl *RateLimiter) Renormalize() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for rl.Limit() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.refillRate):
		}
	}
	return nil
}

// refill assumes the caller holds mu.
func (rl *RateLimiter) refill() {
	elapsed := time.Since(rl.lastRefill)
	add := int(elapsed / rl.refillRate)
	if add <= 0 {
		return
	}
	rl.tokens = min(rl.maxTokens, rl.tokens+add)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(add) * rl.refillRate)
}
