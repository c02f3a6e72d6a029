// Package random provides the uniform randomness used for jitter, identity
// rotation, and politeness delays.
package random

import (
	"math/rand/v2"
	"time"
)

// Source yields uniformly distributed values. Implementations must be safe
// for concurrent use.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// IntN returns a value in [0, n). n must be > 0.
	IntN(n int) int
}

type globalSource struct{}

// Global returns a Source backed by the runtime-seeded math/rand/v2 generator.
func Global() Source {
	return globalSource{}
}

func (globalSource) Float64() float64 { return rand.Float64() }

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Between returns a duration drawn uniformly from [lo, hi). When hi <= lo it
// returns lo.
func Between(src Source, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	if src == nil {
		src = Global()
	}
	return lo + time.Duration(src.Float64()*float64(hi-lo))
}
