package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("ip", 2, time.Minute))
	require.True(t, rl.Allow("ip", 2, time.Minute))
	require.False(t, rl.Allow("ip", 2, time.Minute))
	require.True(t, rl.Allow("other", 2, time.Minute))

	now = now.Add(time.Minute)
	require.True(t, rl.Allow("ip", 2, time.Minute))
}

func TestRateLimiterDisabledLimit(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("ip", 0, time.Minute))
	}
	require.Zero(t, rl.Stats().Keys)
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	rl.Allow("a", 5, time.Minute)
	rl.Allow("b", 5, 10*time.Minute)
	now = now.Add(2 * time.Minute)

	require.Equal(t, 1, rl.Sweep())
	require.Equal(t, 1, rl.Stats().Keys)
}
