// Package selector implements weighted random and deterministic selection
// over a slice of positive integer weights.
package selector

import (
	"math/rand"

	"stampede.dev/stampede/internal/errs"
)

// Weighted picks an index i with probability w[i] / sum(w). Ties in the
// underlying cumulative-weight search resolve to the lowest matching index.
func Weighted(weights []int, rng *rand.Rand) (int, error) {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0, errs.ErrEmptySelector
	}
	pick := rng.Intn(total)
	cum := 0
	for i, w := range weights {
		cum += w
		if pick < cum {
			return i, nil
		}
	}
	return len(weights) - 1, nil
}

// Expand turns weights into a multiset [0^w0, 1^w1, ...] in stable ascending
// index order, for deterministic round-robin or serial scheduling.
func Expand(weights []int) ([]int, error) {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return nil, errs.ErrEmptySelector
	}
	out := make([]int, 0, total)
	for i, w := range weights {
		for n := 0; n < w; n++ {
			out = append(out, i)
		}
	}
	return out, nil
}

// RoundRobin cycles through the expansion of weights, one index per call.
type RoundRobin struct {
	order []int
	pos   int
}

// NewRoundRobin builds a RoundRobin scheduler over the given weights.
func NewRoundRobin(weights []int) (*RoundRobin, error) {
	order, err := Expand(weights)
	if err != nil {
		return nil, err
	}
	return &RoundRobin{order: order}, nil
}

// Next returns the next index in the cycle.
func (r *RoundRobin) Next() int {
	i := r.order[r.pos]
	r.pos = (r.pos + 1) % len(r.order)
	return i
}
