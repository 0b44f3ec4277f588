package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const windowTolerance = 1e-12

// TestHannSymmetric_Endpoints verifies the symmetric window touches zero at
// both ends and peaks at the center.
func TestHannSymmetric_Endpoints(t *testing.T) {
	const n = 65
	w := HannSymmetric(n)

	assert.Len(t, w, n)
	assert.InDelta(t, 0.0, w[0], windowTolerance)
	assert.InDelta(t, 0.0, w[n-1], windowTolerance)
	assert.InDelta(t, 1.0, w[n/2], windowTolerance)
}

// TestHannSymmetric_Symmetry verifies w[i] == w[n-1-i].
func TestHannSymmetric_Symmetry(t *testing.T) {
	for _, n := range []int{2, 5, 16, 129} {
		w := HannSymmetric(n)
		for i := 0; i < n/2; i++ {
			assert.InDelta(t, w[i], w[n-1-i], windowTolerance,
				"n=%d asymmetric at %d", n, i)
		}
	}
}

// TestHannSymmetric_SingleSample covers the n==1 degenerate case.
func TestHannSymmetric_SingleSample(t *testing.T) {
	w := HannSymmetric(1)
	assert.Equal(t, []float64{1}, w)
}

// TestHannPeriodic_COLA verifies the constant-overlap-add property at hop
// n/2: shifted periodic Hann windows sum to a constant.
func TestHannPeriodic_COLA(t *testing.T) {
	const n = 64
	const hop = n / 2
	w := HannPeriodic(n)

	// Sum contributions in the steady-state region of a long overlap-add.
	sums := make([]float64, hop)
	for i := range sums {
		sums[i] = w[i] + w[i+hop]
	}
	for i, s := range sums {
		assert.InDelta(t, 1.0, s, windowTolerance, "COLA violated at offset %d", i)
	}
}

// TestHannPeriodic_StartsAtZero verifies the periodic window starts at zero
// and never reaches zero again within the period.
func TestHannPeriodic_StartsAtZero(t *testing.T) {
	const n = 32
	w := HannPeriodic(n)

	assert.InDelta(t, 0.0, w[0], windowTolerance)
	for i := 1; i < n; i++ {
		assert.Positive(t, w[i], "sample %d should be positive", i)
	}
}
