package separator

import (
	"errors"
	"fmt"

	"github.com/tphakala/go-stem-separator/internal/audiofile"
	"github.com/tphakala/go-stem-separator/internal/chunk"
	"github.com/tphakala/go-stem-separator/internal/stems"
	"github.com/tphakala/go-stem-separator/internal/vocals"
)

// Errors returned by session construction and separation.
var (
	ErrInvalidOptions = errors.New("separator: invalid options")
	ErrNoInputs       = errors.New("separator: no input files")
)

// ProgressFunc receives coarse progress updates: step counts completed
// long-running stages, total is fixed for the whole batch. Called
// synchronously from the separation goroutine; keep it fast.
type ProgressFunc func(step int, description string, total int)

// Backend interfaces a Session is assembled from. The implementations live
// behind these so tests can substitute deterministic models and production
// code can talk to an inference server.
type (
	// SegmentModel is a whole-window separation model with a fixed native
	// window size.
	SegmentModel = vocals.SegmentModel
	// SpectralModel is a spectrogram-to-spectrogram model driven by the
	// windowed chunk processor.
	SpectralModel = chunk.SpectralModel
	// StemBackend is a multi-stem separation model with an explicit
	// load/evict lifecycle.
	StemBackend = stems.Backend
)

// Backends groups the models a session runs.
type Backends struct {
	// VitLarge is the segmentation-transformer vocal model.
	VitLarge SegmentModel
	// InstVoc is the spectral multi-target vocal/instrumental model.
	InstVoc SegmentModel
	// VocFT is the optional chunked spectral vocal model; required only
	// when Options.UseVOCFT is set.
	VocFT SpectralModel
	// Stems holds the four stem models in canonical ensemble order.
	// Unused when Options.VocalsOnly is set.
	Stems []StemBackend
}

// Options carries the operator-tunable parameters of a session. The zero
// value is not usable; start from DefaultOptions.
type Options struct {
	// BigShifts is the circular-shift ensemble size for the vocal
	// backends. Values below 1 are raised to 1.
	BigShifts int

	// OverlapDemucs is the chunk-overlap fraction forwarded to the stem
	// backends, clamped to [0, 0.99].
	OverlapDemucs float64
	// OverlapVOCFT is the chunk processor overlap fraction, clamped to
	// [0, 0.99].
	OverlapVOCFT float64
	// OverlapVitLarge and OverlapInstVoc are integer hop divisors of the
	// two segment backends. Values below 1 are raised to 1.
	OverlapVitLarge int
	OverlapInstVoc  int

	// Blend weights of the vocal ensemble.
	WeightInstVoc  float64
	WeightVOCFT    float64
	WeightVitLarge float64

	// UseVOCFT enables the third vocal backend.
	UseVOCFT bool
	// VocalsOnly skips stem separation; only vocals and the instrumental
	// are produced.
	VocalsOnly bool

	// OutputFormat selects the WAV sample encoding: "FLOAT" (default),
	// "PCM_16" or "PCM_24".
	OutputFormat string

	// Progress, when non-nil, receives batch progress updates.
	Progress ProgressFunc
}

// DefaultOptions returns the calibrated defaults.
func DefaultOptions() Options {
	return Options{
		BigShifts:       7,
		OverlapDemucs:   0.1,
		OverlapVOCFT:    0.1,
		OverlapVitLarge: 1,
		OverlapInstVoc:  1,
		WeightInstVoc:   8,
		WeightVOCFT:     1,
		WeightVitLarge:  5,
		OutputFormat:    "FLOAT",
	}
}

// normalize clamps out-of-range values in place. Operator input is forgiven
// rather than rejected where a sensible clamp exists.
func (o *Options) normalize() {
	if o.BigShifts < 1 {
		o.BigShifts = 1
	}
	o.OverlapDemucs = clampOverlap(o.OverlapDemucs)
	o.OverlapVOCFT = clampOverlap(o.OverlapVOCFT)
	if o.OverlapVitLarge < 1 {
		o.OverlapVitLarge = 1
	}
	if o.OverlapInstVoc < 1 {
		o.OverlapInstVoc = 1
	}
}

// validate rejects values no clamp can repair.
func (o *Options) validate() error {
	if o.WeightInstVoc < 0 || o.WeightVOCFT < 0 || o.WeightVitLarge < 0 {
		return fmt.Errorf("%w: blend weights must be non-negative", ErrInvalidOptions)
	}
	if o.WeightInstVoc+o.WeightVitLarge == 0 {
		return fmt.Errorf("%w: at least one of WeightInstVoc, WeightVitLarge must be positive", ErrInvalidOptions)
	}
	if _, err := audiofile.ParseSampleFormat(o.OutputFormat); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

func clampOverlap(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 0.99 {
		return 0.99
	}
	return v
}
