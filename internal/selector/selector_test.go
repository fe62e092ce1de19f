package selector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stampede.dev/stampede/internal/errs"
)

func TestWeighted_EmptyFails(t *testing.T) {
	_, err := Weighted(nil, rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, errs.ErrEmptySelector)

	_, err = Weighted([]int{0, 0}, rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, errs.ErrEmptySelector)
}

func TestWeighted_Proportionality(t *testing.T) {
	weights := []int{1, 2, 3}
	rng := rand.New(rand.NewSource(42))
	counts := make([]int, len(weights))
	const n = 20000
	for i := 0; i < n; i++ {
		idx, err := Weighted(weights, rng)
		require.NoError(t, err)
		counts[idx]++
	}
	total := 0
	for _, w := range weights {
		total += w
	}
	for i, w := range weights {
		expected := float64(n) * float64(w) / float64(total)
		got := float64(counts[i])
		assert.InEpsilonf(t, expected, got, 0.05, "weight index %d: expected ~%v got %v", i, expected, got)
	}
}

func TestExpand(t *testing.T) {
	out, err := Expand([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, out)

	_, err = Expand([]int{})
	require.ErrorIs(t, err, errs.ErrEmptySelector)
}

func TestRoundRobin_CyclesInOrder(t *testing.T) {
	rr, err := NewRoundRobin([]int{1, 2})
	require.NoError(t, err)
	got := []int{rr.Next(), rr.Next(), rr.Next(), rr.Next()}
	assert.Equal(t, []int{0, 1, 1, 0}, got)
}
