// Package ensemble implements circular-shift ensembling: the same transform
// is run on rotated copies of a waveform and the de-rotated outputs are
// averaged. Chunk-boundary artifacts land at different positions on each
// pass and cancel in the mean, without the ensembler knowing anything about
// chunk boundaries.
package ensemble

import (
	"context"
	"fmt"

	"github.com/tphakala/go-stem-separator/internal/dsp"
)

// InnerFunc is any whole-waveform transform: a chunk processor pass or a
// direct model call.
type InnerFunc func(context.Context, dsp.Waveform) (dsp.Waveform, error)

// Apply runs inner on shiftCount circularly shifted copies of the input and
// returns the arithmetic mean of the restored outputs.
//
// Shift i rotates the input right by i·⌊N/shiftCount⌋ samples; the output is
// rotated back by the same offset before averaging. A shiftCount below 1 is
// treated as 1, in which case the result equals a direct call to inner on
// the unrotated input. gain is a per-backend volume-compensation scalar
// (empirically calibrated, a property of the wrapped model) applied to each
// shifted result; pass 1 for no compensation.
func Apply(ctx context.Context, mix dsp.Waveform, shiftCount int, gain float64, inner InnerFunc) (dsp.Waveform, error) {
	if shiftCount < 1 {
		shiftCount = 1
	}

	n := mix.Len()
	shiftStep := n / shiftCount

	results := make([]dsp.Waveform, 0, shiftCount)
	for i := 0; i < shiftCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset := i * shiftStep
		shifted := mix.RotateRight(offset)

		out, err := inner(ctx, shifted)
		if err != nil {
			return nil, fmt.Errorf("ensemble: shift %d/%d: %w", i, shiftCount, err)
		}
		if gain != 1 {
			out = out.Scale(gain)
		}
		results = append(results, out.RotateLeft(offset))
	}

	return dsp.Mean(results), nil
}
