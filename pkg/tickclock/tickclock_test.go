package tickclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoppedClockReadsZero(t *testing.T) {
	c := New()
	require.Equal(t, uint64(0), c.TotalTicks())
}

func TestTicksAdvanceWithTime(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewWithSource(func() time.Time { return now })
	c.Start()

	now = now.Add(500 * time.Millisecond)
	require.Equal(t, uint64(32), c.TotalTicks())

	now = now.Add(500 * time.Millisecond)
	require.Equal(t, uint64(64), c.TotalTicks())
}

func TestPauseFreezesTicks(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewWithSource(func() time.Time { return now })
	c.Start()

	now = now.Add(500 * time.Millisecond)
	require.Equal(t, uint64(32), c.TotalTicks())

	c.Pause()
	require.True(t, c.Paused())
	now = now.Add(time.Second)
	require.Equal(t, uint64(32), c.TotalTicks(), "ticks must not advance while paused")

	c.Unpause()
	require.False(t, c.Paused())
	now = now.Add(500 * time.Millisecond)
	require.Equal(t, uint64(64), c.TotalTicks())
}

func TestSetTickOffset(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewWithSource(func() time.Time { return now })
	c.Start()
	c.SetTickOffset(1000)
	require.Equal(t, uint64(1000), c.TotalTicks())

	now = now.Add(time.Second)
	require.Equal(t, uint64(1064), c.TotalTicks())
}

func TestStopResetsOffsetAndTicks(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewWithSource(func() time.Time { return now })
	c.Start()
	now = now.Add(time.Second)
	c.Stop()
	require.Equal(t, uint64(0), c.TotalTicks())

	c.Start()
	require.Equal(t, uint64(0), c.TotalTicks())
}
