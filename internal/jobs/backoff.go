package jobs

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before the next attempt.
//
// attempt starts at 1 (the attempt that just failed). The schedule is
// base * 2^(attempt-1), capped at maxDelay, with +/-30% jitter so a burst
// of failures does not retry in lockstep.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
