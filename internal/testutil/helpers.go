// Package testutil provides reusable test helper functions for the
// separation pipeline tests.
package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-stem-separator/internal/dsp"
)

// Default tolerances for various test scenarios.
const (
	DefaultTolerance = 1e-10
	// ReconstructTolerance bounds round-trip error of windowed transforms,
	// dominated by float accumulation over overlap-add.
	ReconstructTolerance = 1e-8
	// FilterTolerance bounds IIR crossover reconstruction error.
	FilterTolerance = 1e-3
)

// AssertNoNaNOrInf verifies that no samples in the slice are NaN or Inf.
func AssertNoNaNOrInf(t *testing.T, s []float64, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		if math.IsNaN(v) {
			return assert.Fail(t, "found NaN", "s[%d] is NaN", i)
		}
		if math.IsInf(v, 0) {
			return assert.Fail(t, "found Inf", "s[%d] is Inf", i)
		}
	}
	return true
}

// AssertWaveformFinite verifies that every channel is free of NaN and Inf.
func AssertWaveformFinite(t *testing.T, w dsp.Waveform, msgAndArgs ...any) bool {
	t.Helper()
	for ch := range w {
		if !AssertNoNaNOrInf(t, w[ch], msgAndArgs...) {
			return false
		}
	}
	return true
}

// AssertAllInRange verifies that all samples are within [min, max].
func AssertAllInRange(t *testing.T, s []float64, minVal, maxVal float64, msgAndArgs ...any) bool {
	t.Helper()
	for i, v := range s {
		if v < minVal || v > maxVal {
			return assert.Fail(t, "value out of range",
				"s[%d]=%f is outside range [%f, %f]", i, v, minVal, maxVal)
		}
	}
	return true
}

// AssertWaveformsClose verifies that two waveforms agree sample-wise within
// tolerance.
func AssertWaveformsClose(t *testing.T, want, got dsp.Waveform, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Equal(t, want.Channels(), got.Channels(), "channel count") {
		return false
	}
	if !assert.Equal(t, want.Len(), got.Len(), "sample count") {
		return false
	}
	for ch := range want {
		for i := range want[ch] {
			if math.Abs(want[ch][i]-got[ch][i]) > tolerance {
				return assert.Fail(t, "waveforms differ",
					"channel %d sample %d: want %g, got %g (tolerance %g)",
					ch, i, want[ch][i], got[ch][i], tolerance)
			}
		}
	}
	return true
}

// AssertInHull verifies that every sample of got lies within the
// component-wise min/max hull of the inputs, with a small slack for float
// rounding.
func AssertInHull(t *testing.T, inputs []dsp.Waveform, got dsp.Waveform, msgAndArgs ...any) bool {
	t.Helper()
	require.NotEmpty(t, inputs)
	for ch := range got {
		for i := range got[ch] {
			lo, hi := inputs[0][ch][i], inputs[0][ch][i]
			for _, in := range inputs[1:] {
				lo = math.Min(lo, in[ch][i])
				hi = math.Max(hi, in[ch][i])
			}
			v := got[ch][i]
			if v < lo-DefaultTolerance || v > hi+DefaultTolerance {
				return assert.Fail(t, "sample outside hull",
					"channel %d sample %d: %g outside [%g, %g]", ch, i, v, lo, hi)
			}
		}
	}
	return true
}

// SineWaveform generates a stereo test tone. The right channel carries the
// same tone at half amplitude so channel mixups show up in comparisons.
func SineWaveform(freqHz float64, sampleRate, n int) dsp.Waveform {
	w := dsp.Zeros(2, n)
	for i := 0; i < n; i++ {
		v := math.Sin(2 * math.Pi * freqHz * float64(i) / float64(sampleRate))
		w[0][i] = v
		w[1][i] = 0.5 * v
	}
	return w
}

// SNR returns the signal-to-noise ratio in dB of an estimate against a
// reference, computed over all channels.
func SNR(reference, estimate dsp.Waveform) float64 {
	var signal, noise float64
	for ch := range reference {
		for i := range reference[ch] {
			signal += reference[ch][i] * reference[ch][i]
			d := reference[ch][i] - estimate[ch][i]
			noise += d * d
		}
	}
	if noise == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(signal/noise)
}

// RMS returns the root mean square over all channels.
func RMS(w dsp.Waveform) float64 {
	var sum float64
	count := 0
	for ch := range w {
		for _, v := range w[ch] {
			sum += v * v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

// AssertRelativeError verifies that the relative error between actual and
// expected is within tolerance.
func AssertRelativeError(t *testing.T, expected, actual, tolerance float64, msgAndArgs ...any) bool {
	t.Helper()
	if expected == 0 {
		return assert.InDelta(t, expected, actual, tolerance, msgAndArgs...)
	}
	relError := math.Abs(actual-expected) / math.Abs(expected)
	return assert.LessOrEqual(t, relError, tolerance,
		"relative error %e exceeds tolerance %e (expected=%f, actual=%f)",
		relError, tolerance, expected, actual)
}
