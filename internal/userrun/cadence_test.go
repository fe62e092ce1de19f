package userrun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadence_Disabled_NeverStalls(t *testing.T) {
	c := newCadence(CODisabled, 0)
	now := time.Now()
	_, _, stalled := c.observe(now)
	require.False(t, stalled)
	_, _, stalled = c.observe(now.Add(10 * time.Second))
	require.False(t, stalled)
}

func TestCadence_Average_DetectsStall(t *testing.T) {
	c := newCadence(COAverage, time.Millisecond)
	now := time.Now()
	// warm up the EWMA with a handful of ~10ms gaps
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Millisecond)
		_, _, stalled := c.observe(now)
		require.False(t, stalled)
	}
	// a 1s gap should register as a stall against a ~10ms baseline
	now = now.Add(time.Second)
	gap, slots, stalled := c.observe(now)
	require.True(t, stalled)
	assert.InDelta(t, time.Second.Milliseconds(), gap.Milliseconds(), 5)
	assert.GreaterOrEqual(t, slots, 1)
}

func TestCadence_Average_MultiSlotStall_ScalesWithGap(t *testing.T) {
	c := newCadence(COAverage, time.Millisecond)
	now := time.Now()
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Millisecond)
		_, _, stalled := c.observe(now)
		require.False(t, stalled)
	}
	// a gap spanning ~100 cadence units should back-fill far more than one slot
	now = now.Add(time.Second)
	_, slots, stalled := c.observe(now)
	require.True(t, stalled)
	assert.Greater(t, slots, 10)
}

func TestParseCOMode(t *testing.T) {
	for in, want := range map[string]COMode{
		"":         CODisabled,
		"disabled": CODisabled,
		"average":  COAverage,
		"minimum":  COMinimum,
		"maximum":  COMaximum,
	} {
		got, err := ParseCOMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCOMode("bogus")
	require.Error(t, err)
}
