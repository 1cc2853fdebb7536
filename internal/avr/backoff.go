package avr

import (
	"math/rand/v2"
	"time"
)

// Reconnect backoff defaults.
const (
	DefaultBackoffMin    = 500 * time.Millisecond
	DefaultBackoffMax    = 30 * time.Second
	DefaultBackoffFactor = 1.5
	DefaultBackoffJitter = 0.2
)

// Backoff produces exponentially growing retry delays with jitter.
//
// Successive delays never decrease until Reset is called, even with jitter
// applied, and never exceed Max. Backoff is not safe for concurrent use; it
// belongs to one Controller goroutine.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64

	// Jitter is the maximum fraction of the base delay added at random.
	Jitter float64

	rand func() float64
	base time.Duration
	last time.Duration
}

// NewBackoff returns a Backoff with defaults applied to zero fields.
func NewBackoff(minDelay, maxDelay time.Duration, factor, jitter float64) *Backoff {
	if minDelay <= 0 {
		minDelay = DefaultBackoffMin
	}
	if maxDelay < minDelay {
		maxDelay = max(DefaultBackoffMax, minDelay)
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{
		Min:    minDelay,
		Max:    maxDelay,
		Factor: factor,
		Jitter: jitter,
		rand:   rand.Float64,
		base:   minDelay,
	}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.base
	if b.Jitter > 0 {
		d += time.Duration(float64(b.base) * b.Jitter * b.rand())
	}
	d = min(max(d, b.last), b.Max)
	b.last = d
	b.base = min(time.Duration(float64(b.base)*b.Factor), b.Max)
	return d
}

// Reset returns the backoff to its minimum delay.
func (b *Backoff) Reset() {
	b.base = b.Min
	b.last = 0
}
