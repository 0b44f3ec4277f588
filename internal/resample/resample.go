// Package resample converts audio between sample rates at the pipeline
// boundary. The separation pipeline runs at a fixed 44100 Hz internally;
// inputs at other rates are converted on load.
//
// The implementation is a rational polyphase resampler: zero-stuff by the
// upsampling factor, filter with a Kaiser windowed-sinc lowpass at the
// tighter of the two Nyquist limits, and decimate by the downsampling
// factor. The filter is applied centered so the output stays time-aligned
// with the input.
package resample

import (
	"fmt"

	"github.com/tphakala/go-stem-separator/internal/dsp"
	"github.com/tphakala/go-stem-separator/internal/filter"
)

const (
	// Anti-aliasing filter targets.
	stopbandAttenuationDB = 90.0
	// Transition bandwidth as a fraction of the passband width.
	transitionFraction = 0.15
)

// Resample converts a single channel from fromRate to toRate.
func Resample(x []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate {
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	}
	if len(x) == 0 {
		return []float64{}, nil
	}

	g := gcd(fromRate, toRate)
	up := toRate / g
	down := fromRate / g

	// Cutoff at the tighter Nyquist limit, normalized to the upsampled rate.
	cutoff := 0.5 / float64(maxInt(up, down))
	coeffs, err := filter.DesignLowPassFIRAuto(
		cutoff,
		cutoff*transitionFraction,
		stopbandAttenuationDB,
		float64(up), // compensates the energy lost to zero-stuffing
	)
	if err != nil {
		return nil, fmt.Errorf("resample: filter design: %w", err)
	}

	return upFirDn(x, coeffs, up, down), nil
}

// ResampleWaveform converts every channel of a waveform.
func ResampleWaveform(w dsp.Waveform, fromRate, toRate int) (dsp.Waveform, error) {
	out := make(dsp.Waveform, w.Channels())
	for ch := range w {
		converted, err := Resample(w[ch], fromRate, toRate)
		if err != nil {
			return nil, err
		}
		out[ch] = converted
	}
	return out, nil
}

// upFirDn evaluates the polyphase convolution directly on the non-zero
// samples of the zero-stuffed signal, with the filter centered to preserve
// time alignment.
func upFirDn(x, h []float64, up, down int) []float64 {
	n := len(x)
	outLen := (n*up + down - 1) / down
	center := (len(h) - 1) / 2

	out := make([]float64, outLen)
	for m := range out {
		// Position in the upsampled stream, filter centered.
		pos := m*down + center

		// h index k must satisfy (pos-k) % up == 0 with (pos-k)/up in range.
		sLo := (pos - (len(h) - 1) + up - 1) / up
		if sLo < 0 {
			sLo = 0
		}
		sHi := pos / up
		if sHi > n-1 {
			sHi = n - 1
		}

		var acc float64
		for s := sLo; s <= sHi; s++ {
			acc += h[pos-s*up] * x[s]
		}
		out[m] = acc
	}
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
