package feed

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: Min doubled per attempt, capped at Max,
// then spread by +/- Jitter of the delay.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64
}

// Next returns the delay before reconnect attempt n (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max < min {
		max = min
	}

	wait := min
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			wait = max
			break
		}
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
