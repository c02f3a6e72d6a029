package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitThrottlesPerHost(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms; burst 1 means the first call is free.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://example.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.example.org/"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, l.hosts())
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	assert.False(t, cfg.Enabled())
	l := New(cfg)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "::not a url"))
	}
	assert.Equal(t, 1, l.hosts())
}

func TestLimiterSharesBucketAcrossHostCase(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 100, Burst: 5})
	require.NoError(t, l.Wait(context.Background(), "https://EXAMPLE.com/a"))
	require.NoError(t, l.Wait(context.Background(), "https://example.com/b"))
	assert.Equal(t, 1, l.hosts())
}
