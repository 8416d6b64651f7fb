package worker

import (
	"math"
	"time"
)

// Backoff computes idle sleep intervals: floor * factor^k for the k-th consecutive
// idle sleep counting from zero, capped at ceiling
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	factor  float64
	attempt int
	capped  bool
}

// NewBackoff creates a backoff starting at floor
func NewBackoff(floor, ceiling time.Duration, factor float64) *Backoff {
	if factor < 1 {
		factor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{floor: floor, ceiling: ceiling, factor: factor}
}

// Next returns the current interval and advances to the next one
func (b *Backoff) Next() time.Duration {
	if b.capped {
		return b.ceiling
	}
	d := time.Duration(float64(b.floor) * math.Pow(b.factor, float64(b.attempt)))
	if d >= b.ceiling || d <= 0 {
		b.capped = true
		return b.ceiling
	}
	b.attempt++
	return d
}

// Reset returns the interval to the floor
func (b *Backoff) Reset() {
	b.attempt = 0
	b.capped = false
}
