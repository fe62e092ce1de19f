// Package throttle bounds the aggregate HTTP request rate issued by all
// users in a single process.
package throttle

import (
	"context"

	"golang.org/x/time/rate"

	"stampede.dev/stampede/internal/errs"
)

// Throttle is a process-wide token bucket. A zero-value Throttle obtained
// via Disabled never suspends.
type Throttle struct {
	limiter *rate.Limiter
}

// New builds a Throttle that admits rps requests per second, with burst
// capacity equal to rps (tokens never accumulate past one second's worth).
func New(rps int) *Throttle {
	if rps <= 0 {
		return Disabled()
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), rps)}
}

// Disabled returns a Throttle whose Acquire never suspends.
func Disabled() *Throttle {
	return &Throttle{}
}

// Acquire blocks until a token is available, or returns errs.ErrCancelled if
// ctx is done first.
func (t *Throttle) Acquire(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return errs.ErrCancelled
	}
	return nil
}
