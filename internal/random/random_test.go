package random

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixed float64

func (f fixed) Float64() float64 { return float64(f) }
func (fixed) IntN(int) int       { return 0 }

func TestBetween(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, Between(fixed(0), time.Second, 3*time.Second))
	assert.Equal(t, 2*time.Second, Between(fixed(0.5), time.Second, 3*time.Second))
	assert.Equal(t, time.Second, Between(fixed(0.9), time.Second, time.Second))
	assert.Equal(t, 2*time.Second, Between(fixed(0.9), 2*time.Second, time.Second))
}

func TestGlobalRanges(t *testing.T) {
	t.Parallel()

	src := Global()
	for i := 0; i < 1000; i++ {
		f := src.Float64()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
		n := src.IntN(6)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 6)
		d := Between(nil, time.Second, 3*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}
