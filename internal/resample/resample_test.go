package resample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-stem-separator/internal/testutil"
)

const (
	rateCD  = 44100
	rateDAT = 48000
	rate32k = 32000

	testSeconds = 1
	testToneHz  = 1000.0
)

func sine(freqHz float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freqHz * float64(i) / float64(sampleRate))
	}
	return out
}

// TestResample_SameRate verifies equal rates return the input unchanged.
func TestResample_SameRate(t *testing.T) {
	x := sine(testToneHz, rateCD, rateCD*testSeconds)
	y, err := Resample(x, rateCD, rateCD)
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

// TestResample_OutputLength verifies the output length follows the rate
// ratio.
func TestResample_OutputLength(t *testing.T) {
	tests := []struct {
		name     string
		fromRate int
		toRate   int
	}{
		{"48k_to_44k1", rateDAT, rateCD},
		{"44k1_to_48k", rateCD, rateDAT},
		{"32k_to_44k1", rate32k, rateCD},
		{"44k1_to_32k", rateCD, rate32k},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.fromRate * testSeconds
			x := sine(testToneHz, tt.fromRate, n)

			y, err := Resample(x, tt.fromRate, tt.toRate)
			require.NoError(t, err)

			want := int(math.Ceil(float64(n) * float64(tt.toRate) / float64(tt.fromRate)))
			assert.InDelta(t, want, len(y), 1, "output length")
			testutil.AssertNoNaNOrInf(t, y)
		})
	}
}

// TestResample_TonePreserved verifies a mid-band tone survives conversion
// with near-unit amplitude.
func TestResample_TonePreserved(t *testing.T) {
	n := rateDAT * testSeconds
	x := sine(testToneHz, rateDAT, n)

	y, err := Resample(x, rateDAT, rateCD)
	require.NoError(t, err)

	// Compare against a reference tone generated at the target rate, away
	// from the filter edges.
	ref := sine(testToneHz, rateCD, len(y))
	const edge = 2000
	var maxErr float64
	for i := edge; i < len(y)-edge; i++ {
		maxErr = math.Max(maxErr, math.Abs(y[i]-ref[i]))
	}
	assert.Less(t, maxErr, 1e-3, "tone distortion %g", maxErr)
}

// TestResample_InvalidRates rejects non-positive rates.
func TestResample_InvalidRates(t *testing.T) {
	x := sine(testToneHz, rateCD, 1000)

	_, err := Resample(x, 0, rateCD)
	assert.Error(t, err)
	_, err = Resample(x, rateCD, -1)
	assert.Error(t, err)
}

// TestResampleWaveform verifies per-channel conversion keeps channels
// independent.
func TestResampleWaveform(t *testing.T) {
	w := testutil.SineWaveform(testToneHz, rateDAT, rateDAT*testSeconds)

	out, err := ResampleWaveform(w, rateDAT, rateCD)
	require.NoError(t, err)

	require.Equal(t, 2, out.Channels())
	// Right channel is the left at half amplitude; the relationship must
	// survive resampling exactly since the filter is linear.
	for i := range out[0] {
		assert.InDelta(t, out[0][i]*0.5, out[1][i], 1e-9, "sample %d", i)
	}
}
