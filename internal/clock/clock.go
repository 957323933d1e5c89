// Package clock isolates wall-clock reads and random draws behind small
// interfaces so the scheduler and engines stay deterministic under test.
package clock

import (
	"math/rand/v2"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// RNG supplies the random draws the engines need. Implementations must be
// safe for concurrent use.
type RNG interface {
	// IntN returns a uniform int in [0, n). n must be > 0.
	IntN(n int) int

	// DurationBetween returns a uniform duration in [min, max] inclusive.
	DurationBetween(min, max time.Duration) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by time.Now.
func System() Clock { return systemClock{} }

type systemRNG struct{}

func (systemRNG) IntN(n int) int { return rand.IntN(n) }

func (systemRNG) DurationBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

// NewRNG returns an RNG backed by math/rand/v2's shared generator.
func NewRNG() RNG { return systemRNG{} }
