// Package dsp provides the waveform primitives shared by the separation
// pipeline: multi-channel sample buffers, circular shifts, arithmetic and
// the window functions used for overlap-add processing.
package dsp

import (
	"github.com/tphakala/simd/f64"
)

// Waveform is a multi-channel audio buffer laid out as channels × samples.
// The separation pipeline operates on stereo waveforms at 44100 Hz; every
// stage produces a new waveform and never mutates its input.
type Waveform [][]float64

// Zeros returns a silent waveform with the given shape.
func Zeros(channels, samples int) Waveform {
	w := make(Waveform, channels)
	for ch := range w {
		w[ch] = make([]float64, samples)
	}
	return w
}

// FromMono duplicates a mono channel into a stereo waveform.
func FromMono(samples []float64) Waveform {
	left := make([]float64, len(samples))
	right := make([]float64, len(samples))
	copy(left, samples)
	copy(right, samples)
	return Waveform{left, right}
}

// Channels returns the number of channels.
func (w Waveform) Channels() int { return len(w) }

// Len returns the number of samples per channel.
func (w Waveform) Len() int {
	if len(w) == 0 {
		return 0
	}
	return len(w[0])
}

// Clone returns a deep copy.
func (w Waveform) Clone() Waveform {
	out := make(Waveform, len(w))
	for ch := range w {
		out[ch] = make([]float64, len(w[ch]))
		copy(out[ch], w[ch])
	}
	return out
}

// Slice returns a deep copy of samples [start, end) across all channels.
func (w Waveform) Slice(start, end int) Waveform {
	out := make(Waveform, len(w))
	for ch := range w {
		out[ch] = make([]float64, end-start)
		copy(out[ch], w[ch][start:end])
	}
	return out
}

// RotateRight returns a copy circularly shifted right by k samples:
// out[i] = w[(i-k) mod n]. A shift of 0 or n is the identity.
func (w Waveform) RotateRight(k int) Waveform {
	n := w.Len()
	out := make(Waveform, len(w))
	if n == 0 {
		for ch := range w {
			out[ch] = []float64{}
		}
		return out
	}
	k = ((k % n) + n) % n
	for ch := range w {
		buf := make([]float64, n)
		copy(buf[k:], w[ch][:n-k])
		copy(buf[:k], w[ch][n-k:])
		out[ch] = buf
	}
	return out
}

// RotateLeft returns a copy circularly shifted left by k samples. It is the
// exact inverse of RotateRight with the same k.
func (w Waveform) RotateLeft(k int) Waveform {
	n := w.Len()
	if n == 0 {
		return w.RotateRight(0)
	}
	k = ((k % n) + n) % n
	return w.RotateRight(n - k)
}

// Add returns w + v sample-wise. The shapes must match.
func (w Waveform) Add(v Waveform) Waveform {
	out := w.Clone()
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] += v[ch][i]
		}
	}
	return out
}

// Sub returns w − v sample-wise. The shapes must match.
func (w Waveform) Sub(v Waveform) Waveform {
	out := w.Clone()
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] -= v[ch][i]
		}
	}
	return out
}

// Scale returns w multiplied by a scalar.
func (w Waveform) Scale(s float64) Waveform {
	out := make(Waveform, len(w))
	for ch := range w {
		out[ch] = make([]float64, len(w[ch]))
		f64.Scale(out[ch], w[ch], s)
	}
	return out
}

// Neg returns the phase-inverted waveform.
func (w Waveform) Neg() Waveform { return w.Scale(-1) }

// Clip returns w with every sample clamped to [lo, hi].
func (w Waveform) Clip(lo, hi float64) Waveform {
	out := w.Clone()
	for ch := range out {
		for i, v := range out[ch] {
			if v < lo {
				out[ch][i] = lo
			} else if v > hi {
				out[ch][i] = hi
			}
		}
	}
	return out
}

// MatchLength trims or zero-pads w to exactly n samples per channel.
// Alignment never resamples; backend outputs that disagree with the mix
// length by a few samples are reconciled here.
func (w Waveform) MatchLength(n int) Waveform {
	out := make(Waveform, len(w))
	for ch := range w {
		buf := make([]float64, n)
		copy(buf, w[ch])
		out[ch] = buf
	}
	return out
}

// Mean returns the arithmetic mean of the given waveforms, which must all
// share the same shape.
func Mean(ws []Waveform) Waveform {
	if len(ws) == 0 {
		return nil
	}
	out := ws[0].Clone()
	for _, w := range ws[1:] {
		for ch := range out {
			for i := range out[ch] {
				out[ch][i] += w[ch][i]
			}
		}
	}
	return out.Scale(1 / float64(len(ws)))
}
