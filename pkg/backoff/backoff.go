// Package backoff computes exponential retry delays.
// Used by the liquidator, reconciliation and the HTTP client retry loops.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is an exponential delay calculator: base, 2×base, 4×base … capped at max.
// Not safe for concurrent use; create one per retry loop.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64 // 0.2 = ±20%
	attempt int
}

// New creates a backoff calculator
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault returns 1s, 2s, 4s … capped at 30s without jitter
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0)
}

// Next returns the delay before the next retry and advances the attempt counter
func (b *Backoff) Next() time.Duration {
	delay := b.Peek(b.attempt)
	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}
	b.attempt++
	return delay
}

// Peek returns the un-jittered delay for attempt n (0-based) without advancing
func (b *Backoff) Peek(n int) time.Duration {
	if n > 30 {
		return b.max
	}
	delay := b.base * time.Duration(int64(1)<<n)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	return delay
}

// Reset sets the attempt counter back to zero
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of delays handed out so far
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
