package consumer

import (
	"math/rand"
	"time"
)

type backoff struct {
	current time.Duration
	min     time.Duration
	max     time.Duration
	factor  float64
}

func newBackoff(min, max time.Duration, factor float64) *backoff {
	if factor < 1 {
		factor = 2.0
	}
	return &backoff{current: min, min: min, max: max, factor: factor}
}

// duration returns the next delay (with up to 10% jitter) and grows the base
// toward the cap.
func (b *backoff) duration() time.Duration {
	jitter := time.Duration(0)
	if n := int64(b.current) / 10; n > 0 {
		jitter = time.Duration(rand.Int63n(n))
	}
	d := b.current + jitter

	b.current = time.Duration(float64(b.current) * b.factor)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.min
}
