package breaker

import (
	"testing"
	"time"

	"github.com/mir00r/gateway/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     15 * time.Second,
		MonitorWindow:    10 * time.Second,
		HalfOpenMax:      1,
	}
}

func TestBreaker_BelowThresholdThenSuccessStaysClosed(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(testConfig(), fc)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()

	assert.Equal(t, Closed, b.State())
	assert.True(t, b.CanRequest())
}

func TestBreaker_ThresholdOpensAndRejectsUntilResetTimeout(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(testConfig(), fc)

	b.OnFailure()
	b.OnFailure()
	b.OnFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.CanRequest())

	fc.Advance(14 * time.Second)
	assert.False(t, b.CanRequest())

	fc.Advance(2 * time.Second)
	assert.True(t, b.CanRequest(), "first call after resetTimeout is the half-open probe")
	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.CanRequest(), "a second concurrent call must be rejected while the probe is in flight")
}

func TestBreaker_SuccessInHalfOpenCloses(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(testConfig(), fc)
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	fc.Advance(16 * time.Second)
	require.True(t, b.CanRequest())
	require.Equal(t, HalfOpen, b.State())

	b.OnSuccess()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.CanRequest())
}

func TestBreaker_FailureInHalfOpenReopens(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(testConfig(), fc)
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	fc.Advance(16 * time.Second)
	require.True(t, b.CanRequest())
	require.Equal(t, HalfOpen, b.State())

	b.OnFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.CanRequest())
}

func TestBreaker_FailuresOutsideMonitorWindowDoNotAccumulate(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(testConfig(), fc)

	b.OnFailure()
	fc.Advance(11 * time.Second) // past the 10s monitor window
	b.OnFailure()
	b.OnFailure()

	assert.Equal(t, Closed, b.State(), "the first failure should have aged out of the window")
}

func TestBreaker_Reset(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(testConfig(), fc)
	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	require.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.CanRequest())
}
