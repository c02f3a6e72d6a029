package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/property-monitor/internal/random"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }
func (fixedSource) IntN(int) int       { return 0 }

func TestDelayReferenceFormula(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig(), fixedSource(0.5))
	assert.Equal(t, 2*time.Second+500*time.Millisecond, p.Delay(1))
	assert.Equal(t, 4*time.Second+500*time.Millisecond, p.Delay(2))
	assert.Equal(t, 8*time.Second+500*time.Millisecond, p.Delay(3))
}

func TestDelayGrowsMonotonically(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig(), random.Global())
	bound := p.jitterBound()
	for attempt := 1; attempt < 10; attempt++ {
		cur := p.Delay(attempt)
		next := p.Delay(attempt + 1)
		require.GreaterOrEqual(t, cur, p.Base(attempt))
		require.Less(t, cur, p.Base(attempt)+bound)
		assert.Greater(t, p.Base(attempt+1), p.Base(attempt))
		// The exponential step outgrows the jitter bound, so even the
		// worst-case draws stay ordered.
		assert.GreaterOrEqual(t, next-bound, cur-bound)
	}
}

func TestDelayJitterSpread(t *testing.T) {
	t.Parallel()

	low := New(DefaultConfig(), fixedSource(0))
	high := New(DefaultConfig(), fixedSource(0.999))
	assert.Equal(t, 2*time.Second, low.Delay(1))
	assert.Greater(t, high.Delay(1), 2*time.Second+990*time.Millisecond)
	assert.Less(t, high.Delay(1), 3*time.Second)
}

func TestDelayCapAndDefaults(t *testing.T) {
	t.Parallel()

	p := New(Config{Base: 0.5, Unit: 0, Jitter: -time.Second, Max: 5 * time.Second}, fixedSource(0.7))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(30))
	assert.Equal(t, p.Delay(1), p.Delay(0), "attempts below one clamp to one")
}

func TestDelayCustomUnit(t *testing.T) {
	t.Parallel()

	p := New(Config{Base: 3, Unit: time.Millisecond}, fixedSource(0))
	assert.Equal(t, 3*time.Millisecond, p.Delay(1))
	assert.Equal(t, 27*time.Millisecond, p.Delay(3))
}
