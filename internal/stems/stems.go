// Package stems implements the multi-stem ensembler: four pretrained stem
// separation models are run sequentially over the instrumental residual,
// their outputs blended by per-model per-stem weights, and the final stems
// reconciled against the mix so that vocals + bass + drums + other closes
// exactly.
package stems

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tphakala/go-stem-separator/internal/dsp"
)

// Canonical stem indices of a 4-stem backend output.
const (
	StemDrums = iota
	StemBass
	StemOther
	StemVocals
	numCoreStems = 4
)

// Extra stem indices produced by 6-stem backends; both are folded into
// "other" before weighting.
const (
	stemGuitar = 4
	stemPiano  = 5
)

// ErrNoBackends reports an ensembler constructed with an empty backend set.
var ErrNoBackends = errors.New("stems: at least one backend is required")

// Backend is one pretrained multi-stem separation model. Models are large;
// at most one is resident in accelerator memory at a time, so the ensembler
// brackets every use with Acquire/Release.
type Backend interface {
	Name() string
	// StemCount returns 4 for drums/bass/other/vocals models and 6 for
	// models that additionally emit guitar and piano.
	StemCount() int
	// Acquire loads the model into accelerator memory.
	Acquire(ctx context.Context) error
	// Release evicts the model and frees its memory. Safe to call after a
	// failed Separate.
	Release()
	// Separate runs the model over the full waveform and returns stems in
	// canonical order. The context bounds the underlying inference call.
	Separate(ctx context.Context, mix dsp.Waveform, overlap float64) ([]dsp.Waveform, error)
}

// BackendSpec binds a backend to its ensemble parameters.
type BackendSpec struct {
	Backend Backend

	// PhasePair runs the model on the signal and its negation and combines
	// as 0.5·pos − 0.5·neg.
	PhasePair bool

	// Per-stem ensemble weights, applied multiplicatively before summation.
	WeightDrums  float64
	WeightBass   float64
	WeightOther  float64
	WeightVocals float64
}

func (s BackendSpec) weight(stem int) float64 {
	switch stem {
	case StemDrums:
		return s.WeightDrums
	case StemBass:
		return s.WeightBass
	case StemOther:
		return s.WeightOther
	default:
		return s.WeightVocals
	}
}

// Result maps stem names to waveforms.
type Result struct {
	Drums dsp.Waveform
	Bass  dsp.Waveform
	Other dsp.Waveform
}

// Ensembler runs the backend set and reconciles the result.
type Ensembler struct {
	specs   []BackendSpec
	overlap float64
	log     *zap.Logger
}

// New builds an ensembler over the given backends. overlap is the
// chunk-overlap fraction forwarded to every backend, clamped upstream.
func New(specs []BackendSpec, overlap float64, log *zap.Logger) (*Ensembler, error) {
	if len(specs) == 0 {
		return nil, ErrNoBackends
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ensembler{specs: specs, overlap: overlap, log: log}, nil
}

// ExtractStems separates the instrumental into bass, drums and other.
// mix and vocalEstimate are the original mix and the already-extracted
// vocals; the refinement and closure passes are computed against them so
// the four stems stay mutually consistent.
func (e *Ensembler) ExtractStems(ctx context.Context, mix, vocalEstimate, instrumental dsp.Waveform) (*Result, error) {
	channels := instrumental.Channels()
	n := instrumental.Len()

	weighted := make([]dsp.Waveform, numCoreStems)
	for s := range weighted {
		weighted[s] = dsp.Zeros(channels, n)
	}

	for _, spec := range e.specs {
		e.log.Info("running stem backend", zap.String("backend", spec.Backend.Name()))
		outs, err := e.runBackend(ctx, spec, instrumental)
		if err != nil {
			return nil, fmt.Errorf("stems: %s: %w", spec.Backend.Name(), err)
		}
		for s := 0; s < numCoreStems; s++ {
			contribution := outs[s].MatchLength(n).Scale(spec.weight(s))
			weighted[s] = weighted[s].Add(contribution)
		}
	}

	// Weighted average: normalize each stem by the sum of its weights
	// across backends.
	for s := 0; s < numCoreStems; s++ {
		var sum float64
		for _, spec := range e.specs {
			sum += spec.weight(s)
		}
		weighted[s] = weighted[s].Scale(1 / sum)
	}

	drums := weighted[StemDrums]
	bass := weighted[StemBass]
	other := weighted[StemOther]

	// Residual refinement: for each stem, the residual of the mix against
	// the vocals and the other two stems is blended with the direct model
	// output, trusting the model twice as much. The clip keeps accumulated
	// float error from blowing up the residual.
	refined := Result{
		Other: refineStem(mix, vocalEstimate, drums, bass, other),
		Drums: refineStem(mix, vocalEstimate, bass, other, drums),
		Bass:  refineStem(mix, vocalEstimate, drums, other, bass),
	}

	// Exact-closure pass: recompute each stem as the residual of all the
	// others, in order, so that vocals + bass + drums + other == mix to the
	// last bit. The order (other, drums, bass) is part of the contract.
	base := mix.Sub(vocalEstimate)
	refined.Other = base.Sub(refined.Bass).Sub(refined.Drums)
	refined.Drums = base.Sub(refined.Bass).Sub(refined.Other)
	refined.Bass = base.Sub(refined.Drums).Sub(refined.Other)

	return &refined, nil
}

// runBackend brackets one model pass with Acquire/Release; Release is
// guaranteed even when separation fails.
func (e *Ensembler) runBackend(ctx context.Context, spec BackendSpec, instrumental dsp.Waveform) (_ []dsp.Waveform, err error) {
	if err := spec.Backend.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	defer spec.Backend.Release()

	var outs []dsp.Waveform
	if spec.PhasePair {
		pos, err := spec.Backend.Separate(ctx, instrumental, e.overlap)
		if err != nil {
			return nil, err
		}
		neg, err := spec.Backend.Separate(ctx, instrumental.Neg(), e.overlap)
		if err != nil {
			return nil, err
		}
		outs = make([]dsp.Waveform, len(pos))
		for s := range pos {
			outs[s] = pos[s].Scale(0.5).Sub(neg[s].Scale(0.5))
		}
	} else {
		outs, err = spec.Backend.Separate(ctx, instrumental, e.overlap)
		if err != nil {
			return nil, err
		}
	}

	if len(outs) < numCoreStems {
		return nil, fmt.Errorf("backend produced %d stems, need %d", len(outs), numCoreStems)
	}

	// 6-stem models: fold guitar and piano into other, truncate to the
	// canonical four.
	if spec.Backend.StemCount() > numCoreStems && len(outs) > stemPiano {
		outs[StemOther] = outs[StemOther].Add(outs[stemGuitar]).Add(outs[stemPiano])
		outs = outs[:numCoreStems]
	}

	return outs, nil
}

// refineStem blends the residual-derived estimate of a stem with its direct
// model output: (residual + 2·raw) / 3, residual clipped to [-1, 1].
func refineStem(mix, vocalEstimate, otherA, otherB, raw dsp.Waveform) dsp.Waveform {
	residual := mix.Sub(vocalEstimate).Sub(otherA).Sub(otherB).Clip(-1, 1)
	return residual.Add(raw.Scale(2)).Scale(1.0 / 3.0)
}
