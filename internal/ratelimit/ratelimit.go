// Package ratelimit provides a non-blocking token bucket rate limiter
// for bandwidth throttling in FTP transfers.
//
// Callers never sleep inside the limiter. Reserve books the bytes that were
// just moved and returns how long the caller should pause before moving
// more, which an event loop turns into a timer.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter.
// It limits the rate of data transfer to a specified bytes per second.
//
// The token bucket algorithm allows for burst transfers up to the bucket
// capacity while maintaining the average rate over time. The bucket may go
// into debt; the debt is what Reserve reports as a delay.
type Limiter struct {
	rate       float64   // bytes per second
	burst      float64   // bucket capacity (max tokens)
	tokens     float64   // current available tokens, negative when in debt
	lastUpdate time.Time // last time tokens were updated
	now        func() time.Time
	mu         sync.Mutex
}

// New creates a new rate limiter with the specified bytes per second limit.
// Burst capacity is one second worth of data. A non-positive rate means
// unlimited and returns nil; a nil *Limiter never delays.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:       rate,
		burst:      rate, // Allow 1 second burst
		tokens:     rate, // Start with full bucket
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Rate returns the configured bytes per second, or 0 for a nil limiter.
func (rl *Limiter) Rate() int64 {
	if rl == nil {
		return 0
	}
	return int64(rl.rate)
}

func (rl *Limiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastUpdate).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastUpdate = now
}

// Reserve consumes n tokens and returns how long the caller must wait
// before the bucket is out of debt again. Zero means no wait.
func (rl *Limiter) Reserve(n int) time.Duration {
	if rl == nil || n <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	rl.tokens -= float64(n)
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.rate * float64(time.Second))
}

// Delay returns the current wait without consuming tokens.
func (rl *Limiter) Delay() time.Duration {
	if rl == nil {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.rate * float64(time.Second))
}
