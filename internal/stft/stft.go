// Package stft implements the short-time Fourier transform used to carry
// audio chunks in and out of spectral separation models.
//
// Frames are centered: the signal is reflect-padded by nfft/2 on both ends
// so that frame k is centered on sample k·hop. Analysis and synthesis both
// use a periodic Hann window; the inverse is normalized by the accumulated
// squared window so that Synthesize(Analyze(x)) == x away from numerical
// noise.
package stft

import (
	"fmt"

	"github.com/tphakala/simd/f64"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/tphakala/go-stem-separator/internal/dsp"
)

// windowEnergyFloor guards the synthesis normalization against division by
// vanishing window mass at the very edges of the padded region.
const windowEnergyFloor = 1e-11

// Spectrogram holds complex STFT frames per channel: [channel][frame][bin]
// with nfft/2+1 bins per frame.
type Spectrogram struct {
	Frames [][][]complex128
	NFFT   int
	Hop    int
}

// Channels returns the channel count.
func (s *Spectrogram) Channels() int { return len(s.Frames) }

// NumFrames returns the frame count of the first channel.
func (s *Spectrogram) NumFrames() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0])
}

// Bins returns the number of frequency bins per frame.
func (s *Spectrogram) Bins() int { return s.NFFT/2 + 1 }

// ZeroLowBins clears the lowest n frequency bins (DC upward) of every frame
// in place. Spectral separation models in this pipeline always run with the
// three lowest bins cleared; the policy must be reproduced exactly for
// numeric parity with their training-time preprocessing.
func (s *Spectrogram) ZeroLowBins(n int) {
	for _, ch := range s.Frames {
		for _, frame := range ch {
			for b := 0; b < n && b < len(frame); b++ {
				frame[b] = 0
			}
		}
	}
}

// Transform computes forward and inverse STFTs with a fixed geometry.
// It is not safe for concurrent use; the pipeline is strictly sequential.
type Transform struct {
	nfft   int
	hop    int
	fft    *fourier.FFT
	window []float64
	scale  float64 // 1/nfft, gonum's inverse FFT does not normalize
}

// New creates a transform for the given FFT size and hop.
func New(nfft, hop int) (*Transform, error) {
	if nfft <= 0 || hop <= 0 || hop > nfft {
		return nil, fmt.Errorf("stft: invalid geometry nfft=%d hop=%d", nfft, hop)
	}
	return &Transform{
		nfft:   nfft,
		hop:    hop,
		fft:    fourier.NewFFT(nfft),
		window: dsp.HannPeriodic(nfft),
		scale:  1.0 / float64(nfft),
	}, nil
}

// NFFT returns the FFT size.
func (t *Transform) NFFT() int { return t.nfft }

// Hop returns the hop size in samples.
func (t *Transform) Hop() int { return t.hop }

// Analyze computes the centered STFT of a waveform. The input must be at
// least nfft/2+1 samples long so that reflect padding is well defined.
func (t *Transform) Analyze(w dsp.Waveform) (*Spectrogram, error) {
	n := w.Len()
	pad := t.nfft / 2
	if n <= pad {
		return nil, fmt.Errorf("stft: input too short (%d samples, need > %d)", n, pad)
	}

	numFrames := 1 + (n+2*pad-t.nfft)/t.hop
	spec := &Spectrogram{
		Frames: make([][][]complex128, w.Channels()),
		NFFT:   t.nfft,
		Hop:    t.hop,
	}

	frame := make([]float64, t.nfft)
	for ch := range w {
		padded := reflectPad(w[ch], pad)
		frames := make([][]complex128, numFrames)
		for f := 0; f < numFrames; f++ {
			start := f * t.hop
			for i := 0; i < t.nfft; i++ {
				frame[i] = padded[start+i] * t.window[i]
			}
			frames[f] = t.fft.Coefficients(nil, frame)
		}
		spec.Frames[ch] = frames
	}
	return spec, nil
}

// Synthesize reconstructs a time-domain waveform of the given length from a
// spectrogram produced with the same geometry.
func (t *Transform) Synthesize(spec *Spectrogram, length int) (dsp.Waveform, error) {
	if spec.NFFT != t.nfft || spec.Hop != t.hop {
		return nil, fmt.Errorf("stft: geometry mismatch nfft=%d/%d hop=%d/%d",
			spec.NFFT, t.nfft, spec.Hop, t.hop)
	}

	pad := t.nfft / 2
	numFrames := spec.NumFrames()
	paddedLen := (numFrames-1)*t.hop + t.nfft

	out := dsp.Zeros(spec.Channels(), length)
	acc := make([]float64, paddedLen)
	norm := make([]float64, paddedLen)
	ifft := make([]float64, t.nfft)

	for ch, frames := range spec.Frames {
		for i := range acc {
			acc[i] = 0
			norm[i] = 0
		}
		for f, coeffs := range frames {
			ifft = t.fft.Sequence(ifft, coeffs)
			f64.Scale(ifft, ifft, t.scale)
			start := f * t.hop
			for i := 0; i < t.nfft; i++ {
				acc[start+i] += ifft[i] * t.window[i]
				norm[start+i] += t.window[i] * t.window[i]
			}
		}
		for i := 0; i < length && pad+i < paddedLen; i++ {
			mass := norm[pad+i]
			if mass < windowEnergyFloor {
				continue
			}
			out[ch][i] = acc[pad+i] / mass
		}
	}
	return out, nil
}

// reflectPad mirrors the signal around its endpoints without repeating the
// edge sample, the same centering convention separation models are trained
// with.
func reflectPad(x []float64, pad int) []float64 {
	n := len(x)
	out := make([]float64, n+2*pad)
	copy(out[pad:], x)
	for i := 1; i <= pad; i++ {
		src := i
		if src >= n {
			src = n - 1
		}
		out[pad-i] = x[src]
	}
	for i := 0; i < pad; i++ {
		src := n - 2 - i
		if src < 0 {
			src = 0
		}
		out[n+pad+i] = x[src]
	}
	return out
}
