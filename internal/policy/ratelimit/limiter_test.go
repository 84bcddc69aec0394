package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSecondToken(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://grqaser.org/books"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://grqaser.org/books?page=2"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://grqaser.org/books/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://media.grqaser.org/1.mp3"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabledWhenRateUnset(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://grqaser.org/books"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://grqaser.org"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Wait(ctx, "https://grqaser.org"))
}

func TestBucketsArePerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://grqaser.org/books"))
	require.NoError(t, l.Wait(ctx, "https://media.grqaser.org/1.mp3"))
	assert.Len(t, l.limiters, 2)

	// Host case does not split a bucket.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(short, "https://GRQASER.org/books?page=2"))
	assert.Len(t, l.limiters, 2)
}
