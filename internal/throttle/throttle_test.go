package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampede.dev/stampede/internal/errs"
)

func TestDisabled_NeverSuspends(t *testing.T) {
	th := Disabled()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		require.NoError(t, th.Acquire(ctx))
	}
}

func TestThrottle_BoundsRate(t *testing.T) {
	th := New(10)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, th.Acquire(ctx))
	}
	elapsed := time.Since(start)
	// 10 burst tokens are immediate, the remaining 5 take ~500ms at 10/s.
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestThrottle_CancelledContext(t *testing.T) {
	th := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, th.Acquire(ctx)) // consume the single burst token
	cancel()
	err := th.Acquire(ctx)
	require.ErrorIs(t, err, errs.ErrCancelled)
}
