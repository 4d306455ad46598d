// Package backoff provides exponential backoff with jitter for retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Multiplier is the exponential factor applied per attempt.
	Multiplier float64

	// Jitter is the randomization fraction (0.0 to 1.0) added to the delay.
	Jitter float64
}

// DefaultPolicy returns the default backoff policy: 1s initial, 5m cap,
// multiplier 2, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

// Delay computes the backoff for a given attempt number. Attempts start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand computes the backoff using a provided random value in
// [0.0, 1.0). Useful for deterministic tests.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Multiplier, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}
