// Package vocals implements the multi-backend vocal extractor: up to three
// independent separation backends produce vocal estimates that are combined
// by band-split weighted averaging, with the instrumental derived as the
// residual against the mix.
package vocals

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tphakala/go-stem-separator/internal/chunk"
	"github.com/tphakala/go-stem-separator/internal/dsp"
	"github.com/tphakala/go-stem-separator/internal/ensemble"
	"github.com/tphakala/go-stem-separator/internal/filter"
)

const (
	// SampleRate is the fixed internal rate of the separation pipeline.
	SampleRate = 44100

	// Band-split crossover: an order-3 Butterworth applied forward-backward
	// yields the zero-phase order-6 Linkwitz-Riley pair.
	crossoverHz    = 10000.0
	crossoverOrder = 3

	// lowBandGain is the fixed calibration applied to the blended low band
	// before recombination.
	lowBandGain = 1.01055

	// Default per-backend volume compensation, calibrated against each
	// model's systematic level bias.
	DefaultInstVocGain  = 1.0005168
	DefaultVitLargeGain = 1.002
	DefaultVocFTGain    = 1.021

	// The chunk-processor backend runs a reduced shift set.
	vocFTShiftDivisor = 5
)

// ErrNoBackends reports an extractor constructed without the two required
// backends.
var ErrNoBackends = errors.New("vocals: both segment backends are required")

// SegmentModel is a whole-window separation model with a fixed native
// window: Process maps one window to per-target estimates in the order
// reported by Targets. The extractor drives it over a full-length waveform
// with one of two overlap-add strategies.
type SegmentModel interface {
	Name() string
	WindowSize() int
	Targets() []string
	Process(ctx context.Context, window dsp.Waveform) ([]dsp.Waveform, error)
}

// Config carries the extractor's operator-tunable parameters. Values are
// copied at construction; the extractor holds no global state.
type Config struct {
	BigShifts       int
	OverlapInstVoc  int     // hop divisor for the spectral multi-target backend
	OverlapVitLarge int     // hop divisor for the segmentation backend
	OverlapVocFT    float64 // chunk-processor overlap fraction, clamped upstream

	WeightInstVoc  float64
	WeightVitLarge float64
	WeightVocFT    float64

	InstVocGain  float64
	VitLargeGain float64
	VocFTGain    float64

	UseVocFT bool
}

// Extractor combines the configured backends into a single vocal estimate.
type Extractor struct {
	cfg      Config
	vitLarge SegmentModel
	instVoc  SegmentModel
	vocFT    chunk.SpectralModel
	log      *zap.Logger
}

// New builds an extractor. vocFT may be nil when cfg.UseVocFT is false.
func New(cfg Config, vitLarge, instVoc SegmentModel, vocFT chunk.SpectralModel, log *zap.Logger) (*Extractor, error) {
	if vitLarge == nil || instVoc == nil {
		return nil, ErrNoBackends
	}
	if cfg.UseVocFT && vocFT == nil {
		return nil, errors.New("vocals: UseVocFT set but no chunk backend supplied")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{cfg: cfg, vitLarge: vitLarge, instVoc: instVoc, vocFT: vocFT, log: log}, nil
}

// ExtractVocals runs every enabled backend over the mix and returns the
// band-split blended vocal estimate along with the residual instrumental
// (mix − vocals).
func (e *Extractor) ExtractVocals(ctx context.Context, mix dsp.Waveform) (vocalsOut, instrumental dsp.Waveform, err error) {
	n := mix.Len()

	e.log.Info("extracting vocals", zap.String("backend", e.vitLarge.Name()))
	vitEstimate, err := ensemble.Apply(ctx, mix, e.cfg.BigShifts, e.cfg.VitLargeGain, func(ctx context.Context, w dsp.Waveform) (dsp.Waveform, error) {
		return e.segmentPass(ctx, e.vitLarge, w, e.cfg.OverlapVitLarge, "vocals")
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vocals: %s: %w", e.vitLarge.Name(), err)
	}
	vitEstimate = vitEstimate.MatchLength(n)

	e.log.Info("extracting vocals", zap.String("backend", e.instVoc.Name()))
	instVocEstimate, err := ensemble.Apply(ctx, mix, e.cfg.BigShifts, e.cfg.InstVocGain, func(ctx context.Context, w dsp.Waveform) (dsp.Waveform, error) {
		return e.unfoldPass(ctx, e.instVoc, w, e.cfg.OverlapInstVoc, "Vocals")
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vocals: %s: %w", e.instVoc.Name(), err)
	}
	instVocEstimate = instVocEstimate.MatchLength(n)

	var vocFTEstimate dsp.Waveform
	if e.cfg.UseVocFT {
		e.log.Info("extracting vocals", zap.String("backend", "chunked spectral model"))
		vocFTEstimate, err = e.phasePairChunkPass(ctx, mix)
		if err != nil {
			return nil, nil, fmt.Errorf("vocals: chunk backend: %w", err)
		}
		vocFTEstimate = vocFTEstimate.MatchLength(n)
	}

	// Band-split combination: weighted average below the crossover, the
	// spectral multi-target estimate alone above it.
	var low dsp.Waveform
	if e.cfg.UseVocFT {
		low = WeightedAverage(
			[]dsp.Waveform{vocFTEstimate, instVocEstimate, vitEstimate},
			[]float64{e.cfg.WeightVocFT, e.cfg.WeightInstVoc, e.cfg.WeightVitLarge},
		)
	} else {
		low = WeightedAverage(
			[]dsp.Waveform{instVocEstimate, vitEstimate},
			[]float64{e.cfg.WeightInstVoc, e.cfg.WeightVitLarge},
		)
	}

	low = lrFilter(low, crossoverHz, filter.Lowpass).Scale(lowBandGain)
	high := lrFilter(instVocEstimate, crossoverHz, filter.Highpass)

	vocalsOut = low.Add(high)
	instrumental = mix.Sub(vocalsOut)
	return vocalsOut, instrumental, nil
}

// phasePairChunkPass runs the chunk processor on the waveform and on its
// phase-inverted copy and combines as 0.5·pos − 0.5·neg, suppressing model
// artifacts that do not invert with the signal.
func (e *Extractor) phasePairChunkPass(ctx context.Context, mix dsp.Waveform) (dsp.Waveform, error) {
	shifts := e.cfg.BigShifts / vocFTShiftDivisor

	inner := func(ctx context.Context, w dsp.Waveform) (dsp.Waveform, error) {
		return chunk.Process(ctx, w, e.vocFT, e.cfg.OverlapVocFT)
	}

	pos, err := ensemble.Apply(ctx, mix, shifts, e.cfg.VocFTGain, inner)
	if err != nil {
		return nil, err
	}
	neg, err := ensemble.Apply(ctx, mix.Neg(), shifts, e.cfg.VocFTGain, inner)
	if err != nil {
		return nil, err
	}
	return pos.Scale(0.5).Sub(neg.Scale(0.5)), nil
}

// segmentPass drives a segment model over the full waveform with uniform
// linear overlap-add: windows start every windowSize/overlapDiv samples and
// contributions are averaged with unit weight per window.
func (e *Extractor) segmentPass(ctx context.Context, model SegmentModel, mix dsp.Waveform, overlapDiv int, target string) (dsp.Waveform, error) {
	idx, err := targetIndex(model, target)
	if err != nil {
		return nil, err
	}
	if overlapDiv < 1 {
		overlapDiv = 1
	}

	window := model.WindowSize()
	step := window / overlapDiv
	if step < 1 {
		step = 1
	}

	channels := mix.Channels()
	n := mix.Len()
	result := dsp.Zeros(channels, n)
	counter := dsp.Zeros(channels, n)
	part := dsp.Zeros(channels, window)

	for start := 0; start < n; start += step {
		end := start + window
		if end > n {
			end = n
		}
		length := end - start

		for ch := range part {
			copied := copy(part[ch], mix[ch][start:end])
			for i := copied; i < window; i++ {
				part[ch][i] = 0
			}
		}

		outs, err := model.Process(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("segment window at %d: %w", start, err)
		}
		est := outs[idx]
		for ch := 0; ch < channels; ch++ {
			for i := 0; i < length; i++ {
				result[ch][start+i] += est[ch][i]
				counter[ch][start+i]++
			}
		}
	}

	for ch := range result {
		for i := range result[ch] {
			result[ch][i] /= counter[ch][i]
		}
	}
	return result, nil
}

// unfoldPass drives a segment model with hop-strided unfolding: the mix is
// padded by window−hop on both sides, windows start every hop samples, raw
// outputs are summed in place, and the valid region is normalized by the
// overlap divisor.
func (e *Extractor) unfoldPass(ctx context.Context, model SegmentModel, mix dsp.Waveform, overlapDiv int, target string) (dsp.Waveform, error) {
	idx, err := targetIndex(model, target)
	if err != nil {
		return nil, err
	}
	if overlapDiv < 1 {
		overlapDiv = 1
	}

	window := model.WindowSize()
	hop := window / overlapDiv
	if hop < 1 {
		hop = 1
	}

	channels := mix.Channels()
	n := mix.Len()

	mod := ((n-window)%hop + hop) % hop
	padBack := hop - mod
	lead := window - hop
	total := lead + n + padBack + lead

	mixture := dsp.Zeros(channels, total)
	for ch := range mixture {
		copy(mixture[ch][lead:], mix[ch])
	}

	acc := dsp.Zeros(channels, total)
	part := dsp.Zeros(channels, window)

	for start := 0; start+window <= total; start += hop {
		for ch := range part {
			copy(part[ch], mixture[ch][start:start+window])
		}
		outs, err := model.Process(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("unfold window at %d: %w", start, err)
		}
		est := outs[idx]
		for ch := 0; ch < channels; ch++ {
			for i := 0; i < window; i++ {
				acc[ch][start+i] += est[ch][i]
			}
		}
	}

	out := dsp.Zeros(channels, n)
	scale := 1 / float64(overlapDiv)
	for ch := range out {
		for i := 0; i < n; i++ {
			out[ch][i] = acc[ch][lead+i] * scale
		}
	}
	return out, nil
}

// WeightedAverage combines waveforms as Σ wᵢ·xᵢ / Σ wᵢ. Every output sample
// lies within the component-wise hull of the inputs for positive weights.
func WeightedAverage(ws []dsp.Waveform, weights []float64) dsp.Waveform {
	var sum float64
	for _, w := range weights {
		sum += w
	}

	out := dsp.Zeros(ws[0].Channels(), ws[0].Len())
	for k, w := range ws {
		scale := weights[k] / sum
		for ch := range out {
			for i := range out[ch] {
				out[ch][i] += w[ch][i] * scale
			}
		}
	}
	return out
}

// lrFilter applies the zero-phase Linkwitz-Riley crossover to every channel.
func lrFilter(w dsp.Waveform, cutoffHz float64, band filter.BandType) dsp.Waveform {
	sections, err := filter.DesignButterworth(crossoverOrder, cutoffHz, SampleRate, band)
	if err != nil {
		// The crossover parameters are compile-time constants well inside
		// the valid range.
		panic(err)
	}
	out := make(dsp.Waveform, w.Channels())
	for ch := range w {
		out[ch] = filter.FiltFilt(sections, w[ch])
	}
	return out
}

func targetIndex(model SegmentModel, target string) (int, error) {
	for i, t := range model.Targets() {
		if t == target {
			return i, nil
		}
	}
	return 0, fmt.Errorf("model %s has no target %q", model.Name(), target)
}
