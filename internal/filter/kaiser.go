// Package filter provides the filter designs used by the separation
// pipeline: Kaiser windowed-sinc FIR lowpass filters for the boundary
// resampler, and Butterworth biquad cascades applied forward-backward for
// the zero-phase band-split crossover.
package filter

import (
	"fmt"
	"math"

	"github.com/tphakala/simd/f64"

	"github.com/tphakala/go-stem-separator/internal/mathutil"
)

const (
	// Filter design constants
	minFilterTaps = 3
	maxFilterTaps = 8191

	// Window normalization
	windowNormalizationFactor = 2.0

	// Sinc function constants
	sincCenterTap     = 1.0
	sincZeroThreshold = 1e-10
)

// KaiserWindow generates a Kaiser window of the specified length and β
// parameter. Higher β trades main lobe width for sidelobe attenuation.
// The window is symmetric: w[i] = w[length-1-i].
func KaiserWindow(length int, beta float64) []float64 {
	if length < 1 {
		return []float64{}
	}

	window := make([]float64, length)

	if length == 1 {
		window[0] = sincCenterTap
		return window
	}

	// w[n] = I₀(β · sqrt(1 - ((n - α)/α)²)) / I₀(β), α = (N-1)/2
	alpha := float64(length-1) / windowNormalizationFactor
	i0Beta := mathutil.BesselI0(beta)

	for n := range length {
		x := (float64(n) - alpha) / alpha
		arg := beta * math.Sqrt(1.0-x*x)
		window[n] = mathutil.BesselI0(arg) / i0Beta
	}

	return window
}

// FIRParams holds parameters for windowed-sinc lowpass design.
type FIRParams struct {
	// NumTaps is the filter length; odd for a symmetric linear-phase FIR.
	NumTaps int

	// CutoffFreq is the normalized cutoff frequency in (0, 0.5), where 0.5
	// is Nyquist.
	CutoffFreq float64

	// Attenuation is the desired stopband attenuation in dB.
	Attenuation float64

	// Gain is the passband gain, typically 1.0.
	Gain float64
}

// Validate checks if filter parameters are valid.
func (fp *FIRParams) Validate() error {
	if fp.NumTaps < minFilterTaps {
		return fmt.Errorf("filter too short: %d taps (minimum %d)", fp.NumTaps, minFilterTaps)
	}

	if fp.NumTaps > maxFilterTaps {
		return fmt.Errorf("filter too long: %d taps (maximum %d)", fp.NumTaps, maxFilterTaps)
	}

	if fp.CutoffFreq <= 0 || fp.CutoffFreq >= 0.5 {
		return fmt.Errorf("invalid cutoff frequency: %f (must be in (0, 0.5))", fp.CutoffFreq)
	}

	if fp.Attenuation < 0 {
		return fmt.Errorf("invalid attenuation: %f dB (must be positive)", fp.Attenuation)
	}

	if fp.Gain <= 0 {
		return fmt.Errorf("invalid gain: %f (must be positive)", fp.Gain)
	}

	return nil
}

// DesignLowPassFIR designs a Kaiser windowed-sinc lowpass FIR filter:
// ideal sinc, truncated, Kaiser-windowed against Gibbs ripple, normalized
// to the requested DC gain. Used as the anti-aliasing/anti-imaging kernel
// of the boundary resampler.
func DesignLowPassFIR(params FIRParams) ([]float64, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	beta := mathutil.KaiserBeta(params.Attenuation)
	window := KaiserWindow(params.NumTaps, beta)

	coeffs := make([]float64, params.NumTaps)
	center := float64(params.NumTaps-1) / windowNormalizationFactor

	for n := range params.NumTaps {
		x := float64(n) - center

		// sinc: sin(2πfc·x) / (πx); at x=0 the limit is 2·fc
		var sincValue float64
		if math.Abs(x) < sincZeroThreshold {
			sincValue = windowNormalizationFactor * params.CutoffFreq
		} else {
			arg := windowNormalizationFactor * math.Pi * params.CutoffFreq * x
			sincValue = math.Sin(arg) / (math.Pi * x)
		}

		coeffs[n] = sincValue * window[n]
	}

	sum := f64.Sum(coeffs)
	if math.Abs(sum) > sincZeroThreshold {
		f64.Scale(coeffs, coeffs, params.Gain/sum)
	}

	return coeffs, nil
}

// DesignLowPassFIRAuto designs a lowpass FIR with the tap count derived
// from the attenuation and transition bandwidth requirements.
func DesignLowPassFIRAuto(cutoffFreq, transitionBW, attenuation, gain float64) ([]float64, error) {
	numTaps := mathutil.EstimateFilterLength(attenuation, transitionBW)

	params := FIRParams{
		NumTaps:     numTaps,
		CutoffFreq:  cutoffFreq,
		Attenuation: attenuation,
		Gain:        gain,
	}

	return DesignLowPassFIR(params)
}
