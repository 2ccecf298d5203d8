package ratelimit

import (
	"testing"
	"time"

	"github.com/mir00r/gateway/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindow_AllowsUpToLimitThenDenies(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	fw := newFixedWindow(FixedWindowConfig{MaxRequests: 50, Window: 60 * time.Second}, fc)

	for i := 0; i < 50; i++ {
		d := fw.Consume("client-a")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d := fw.Consume("client-a")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
}

func TestFixedWindow_ResetsNextWindow(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	fw := newFixedWindow(FixedWindowConfig{MaxRequests: 50, Window: 60 * time.Second}, fc)
	for i := 0; i < 50; i++ {
		fw.Consume("client-a")
	}
	require.False(t, fw.Consume("client-a").Allowed)

	fc.Advance(61 * time.Second)
	d := fw.Consume("client-a")
	assert.True(t, d.Allowed)
	assert.Equal(t, 49, d.Remaining)
}

func TestSlidingLog_DeniesOverLimitAndRecoversAfterWindow(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sl := newSlidingLog(SlidingLogConfig{MaxRequests: 5, Window: 10 * time.Second}, fc)

	for i := 0; i < 5; i++ {
		require.True(t, sl.Consume("k").Allowed)
	}
	d := sl.Consume("k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)

	fc.Advance(11 * time.Second)
	assert.True(t, sl.Consume("k").Allowed)
}

func TestSlidingCounter_EstimatesAcrossWindowBoundary(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sc := newSlidingCounter(SlidingCounterConfig{MaxRequests: 10, Window: 10 * time.Second}, fc)

	for i := 0; i < 10; i++ {
		require.True(t, sc.Consume("k").Allowed)
	}
	assert.False(t, sc.Consume("k").Allowed)

	// Halfway into the next window, the previous window's weight is ~0.5,
	// so roughly half its count still presses against the limit.
	fc.Advance(15 * time.Second)
	d := sc.Consume("k")
	assert.True(t, d.Allowed)
}

func TestTokenBucket_BurstsToCapacityThenDenies(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tb := newTokenBucket(TokenBucketConfig{Capacity: 20, RefillRate: 5}, fc)

	for i := 0; i < 20; i++ {
		require.True(t, tb.Consume("k").Allowed, "request %d", i+1)
	}
	d := tb.Consume("k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfter)
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	tb := newTokenBucket(TokenBucketConfig{Capacity: 20, RefillRate: 5}, fc)
	for i := 0; i < 20; i++ {
		tb.Consume("k")
	}
	require.False(t, tb.Consume("k").Allowed)

	fc.Advance(1 * time.Second)
	assert.True(t, tb.Consume("k").Allowed)
}

func TestLeakyBucket_SmoothsAndDenies(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	lb := newLeakyBucket(LeakyBucketConfig{Capacity: 20, LeakRate: 5}, fc)

	for i := 0; i < 20; i++ {
		require.True(t, lb.Consume("k").Allowed)
	}
	d := lb.Consume("k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
}

func TestRegistry_SwapActiveIsAtomic(t *testing.T) {
	reg, err := NewRegistry(DefaultConfig(), "fixed_window", clock.Real{})
	require.NoError(t, err)

	_, name := reg.Active()
	assert.Equal(t, "fixed_window", name)

	require.NoError(t, reg.SetActive("token_bucket"))
	_, name = reg.Active()
	assert.Equal(t, "token_bucket", name)

	err = reg.SetActive("does_not_exist")
	assert.Error(t, err)
	_, name = reg.Active()
	assert.Equal(t, "token_bucket", name, "a failed swap must not disturb the active reference")
}
