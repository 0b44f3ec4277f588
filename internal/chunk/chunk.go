// Package chunk implements the windowed chunk processor: an arbitrary-length
// waveform is split into overlapping model-native chunks, each chunk is run
// through a spectral model, and the results are reassembled by weighted
// overlap-add.
package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/tphakala/go-stem-separator/internal/dsp"
	"github.com/tphakala/go-stem-separator/internal/stft"
)

// lowBinsZeroed is the number of low-frequency STFT bins (DC upward) cleared
// before each model pass. The spectral models were trained with this exact
// preprocessing, so it is part of the inference contract.
const lowBinsZeroed = 3

const (
	minOverlap = 0.0
	maxOverlap = 0.99
)

// ErrZeroDivider reports an overlap-add accumulator with zero window mass
// inside the valid region. The chunk stride never exceeds the chunk size, so
// this indicates a broken internal invariant rather than bad input.
var ErrZeroDivider = errors.New("chunk: zero window mass inside valid region")

// SpectralModel is the uniform interface every chunk-level separation model
// implements: a fixed STFT geometry and a spectrogram-to-spectrogram
// transform. No runtime introspection of the model is performed.
type SpectralModel interface {
	// NFFT returns the model's FFT size.
	NFFT() int
	// Hop returns the model's STFT hop in samples.
	Hop() int
	// ChunkSize returns the model's native window in samples.
	ChunkSize() int
	// Transform maps an input spectrogram to the separated estimate with
	// identical geometry. Called once per chunk; the context bounds the
	// underlying inference call.
	Transform(ctx context.Context, spec *stft.Spectrogram) (*stft.Spectrogram, error)
}

// Process splits the waveform into overlapping chunks, runs the model over
// each, and reassembles the estimates via weighted overlap-add.
//
// The input is padded by nfft/2 zeros at the front and by enough zeros at
// the back that the final chunk is full length; the padding is trimmed from
// the result, which is truncated to the input length. With overlap > 0 each
// chunk is tapered by a Hann window and the window mass is accumulated into
// a divider; with overlap == 0 chunks are averaged uniformly.
func Process(ctx context.Context, mix dsp.Waveform, model SpectralModel, overlap float64) (dsp.Waveform, error) {
	if overlap < minOverlap {
		overlap = minOverlap
	} else if overlap > maxOverlap {
		overlap = maxOverlap
	}

	nfft := model.NFFT()
	trim := nfft / 2
	chunkSize := model.ChunkSize()
	gen := chunkSize - 2*trim
	if gen <= 0 {
		return nil, fmt.Errorf("chunk: model window %d too small for nfft %d", chunkSize, nfft)
	}

	channels := mix.Channels()
	inLen := mix.Len()
	pad := gen + trim - inLen%gen
	total := trim + inLen + pad

	mixture := dsp.Zeros(channels, total)
	for ch := range mixture {
		copy(mixture[ch][trim:], mix[ch])
	}

	step := int((1 - overlap) * float64(chunkSize))
	if step <= 0 {
		return nil, fmt.Errorf("chunk: overlap %v yields non-positive stride", overlap)
	}

	transform, err := stft.New(nfft, model.Hop())
	if err != nil {
		return nil, err
	}

	result := dsp.Zeros(channels, total)
	divider := dsp.Zeros(channels, total)
	part := dsp.Zeros(channels, chunkSize)

	for start := 0; start < total; start += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + chunkSize
		if end > total {
			end = total
		}
		actual := end - start

		for ch := range part {
			n := copy(part[ch], mixture[ch][start:end])
			for i := n; i < chunkSize; i++ {
				part[ch][i] = 0
			}
		}

		spec, err := transform.Analyze(part)
		if err != nil {
			return nil, err
		}
		spec.ZeroLowBins(lowBinsZeroed)

		est, err := model.Transform(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("chunk: model transform: %w", err)
		}

		wave, err := transform.Synthesize(est, chunkSize)
		if err != nil {
			return nil, err
		}

		if overlap == 0 {
			for ch := range wave {
				for i := 0; i < actual; i++ {
					result[ch][start+i] += wave[ch][i]
					divider[ch][start+i]++
				}
			}
			continue
		}

		window := dsp.HannSymmetric(actual)
		for ch := range wave {
			for i := 0; i < actual; i++ {
				result[ch][start+i] += wave[ch][i] * window[i]
				divider[ch][start+i] += window[i]
			}
		}
	}

	out := dsp.Zeros(channels, inLen)
	for ch := range out {
		for i := 0; i < inLen; i++ {
			mass := divider[ch][trim+i]
			if mass <= 0 {
				return nil, fmt.Errorf("%w: channel %d sample %d", ErrZeroDivider, ch, i)
			}
			out[ch][i] = result[ch][trim+i] / mass
		}
	}
	return out, nil
}
