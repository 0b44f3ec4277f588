package separator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tphakala/go-stem-separator/internal/audiofile"
	"github.com/tphakala/go-stem-separator/internal/dsp"
	"github.com/tphakala/go-stem-separator/internal/resample"
	"github.com/tphakala/go-stem-separator/internal/stems"
	"github.com/tphakala/go-stem-separator/internal/vocals"
)

// stepsPerFile is the number of coarse progress steps each input contributes:
// load, separate, write.
const stepsPerFile = 3

// Calibrated per-backend stem weights and phase-pair flags, indexed in the
// canonical backend order the Backends.Stems slice must follow.
var (
	stemWeightsDrums  = [4]float64{18, 2, 4, 9}
	stemWeightsBass   = [4]float64{19, 4, 5, 8}
	stemWeightsOther  = [4]float64{14, 2, 5, 10}
	stemWeightsVocals = [4]float64{10, 1, 8, 9}
	stemPhasePair     = [4]bool{true, true, false, true}
)

// Session is a configured separation pipeline. It is safe to reuse across
// batches; a session holds no per-file state.
type Session struct {
	opts      Options
	extractor *vocals.Extractor
	ensembler *stems.Ensembler
	format    audiofile.SampleFormat
	log       *zap.Logger
}

// NewSession validates the options and assembles the pipeline. backends.Stems
// must hold exactly four models in canonical order unless opts.VocalsOnly is
// set.
func NewSession(opts Options, backends Backends, log *zap.Logger) (*Session, error) {
	opts.normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	format, err := audiofile.ParseSampleFormat(opts.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	extractor, err := vocals.New(vocals.Config{
		BigShifts:       opts.BigShifts,
		OverlapInstVoc:  opts.OverlapInstVoc,
		OverlapVitLarge: opts.OverlapVitLarge,
		OverlapVocFT:    opts.OverlapVOCFT,
		WeightInstVoc:   opts.WeightInstVoc,
		WeightVitLarge:  opts.WeightVitLarge,
		WeightVocFT:     opts.WeightVOCFT,
		InstVocGain:     vocals.DefaultInstVocGain,
		VitLargeGain:    vocals.DefaultVitLargeGain,
		VocFTGain:       vocals.DefaultVocFTGain,
		UseVocFT:        opts.UseVOCFT,
	}, backends.VitLarge, backends.InstVoc, backends.VocFT, log)
	if err != nil {
		return nil, err
	}

	s := &Session{opts: opts, extractor: extractor, format: format, log: log}

	if !opts.VocalsOnly {
		if len(backends.Stems) != len(stemPhasePair) {
			return nil, fmt.Errorf("%w: need %d stem backends, got %d",
				ErrInvalidOptions, len(stemPhasePair), len(backends.Stems))
		}
		specs := make([]stems.BackendSpec, len(backends.Stems))
		for i, b := range backends.Stems {
			specs[i] = stems.BackendSpec{
				Backend:      b,
				PhasePair:    stemPhasePair[i],
				WeightDrums:  stemWeightsDrums[i],
				WeightBass:   stemWeightsBass[i],
				WeightOther:  stemWeightsOther[i],
				WeightVocals: stemWeightsVocals[i],
			}
		}
		s.ensembler, err = stems.New(specs, opts.OverlapDemucs, log)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Separate runs the pipeline over every input file and writes the stems into
// outputDir. A missing or undecodable input is logged and skipped; the batch
// continues with the next file. Returns the paths of all files written.
func (s *Session) Separate(ctx context.Context, inputs []string, outputDir string) ([]string, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("separator: create output dir: %w", err)
	}

	total := stepsPerFile * len(inputs)
	step := 0
	s.progress(step, "initializing", total)

	var outputs []string
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}

		fileStart := step
		paths, err := s.separateFile(ctx, input, outputDir, &step, total)
		if err != nil {
			if ctx.Err() != nil {
				return outputs, ctx.Err()
			}
			s.log.Warn("skipping input", zap.String("path", input), zap.Error(err))
			step = fileStart + stepsPerFile
			s.progress(step, fmt.Sprintf("skipped %s", input), total)
			continue
		}
		outputs = append(outputs, paths...)
	}

	s.progress(total, "all files processed", total)
	return outputs, nil
}

func (s *Session) separateFile(ctx context.Context, input, outputDir string, step *int, total int) ([]string, error) {
	mix, rate, err := audiofile.ReadWAV(input)
	if err != nil {
		return nil, err
	}
	if rate != vocals.SampleRate {
		s.log.Info("resampling input",
			zap.String("path", input),
			zap.Int("from", rate),
			zap.Int("to", vocals.SampleRate))
		mix, err = resample.ResampleWaveform(mix, rate, vocals.SampleRate)
		if err != nil {
			return nil, err
		}
	}
	*step++
	s.progress(*step, fmt.Sprintf("loaded %s", input), total)

	vocalsOut, instrumental, err := s.extractor.ExtractVocals(ctx, mix)
	if err != nil {
		return nil, err
	}

	named := []namedStem{
		{"vocals", vocalsOut},
		{"instrum", instrumental},
	}

	if !s.opts.VocalsOnly {
		result, err := s.ensembler.ExtractStems(ctx, mix, vocalsOut, instrumental)
		if err != nil {
			return nil, err
		}
		named = append(named,
			namedStem{"bass", result.Bass},
			namedStem{"drums", result.Drums},
			namedStem{"other", result.Other},
		)
	}
	*step++
	s.progress(*step, fmt.Sprintf("separated %s", input), total)

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	paths := make([]string, 0, len(named))
	for _, out := range named {
		path := filepath.Join(outputDir, fmt.Sprintf("%s_%s.wav", base, out.stem))
		if err := audiofile.WriteWAV(path, out.wave, vocals.SampleRate, s.format); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	*step++
	s.progress(*step, fmt.Sprintf("completed %s", input), total)

	return paths, nil
}

type namedStem struct {
	stem string
	wave dsp.Waveform
}

func (s *Session) progress(step int, description string, total int) {
	if s.opts.Progress != nil {
		s.opts.Progress(step, description, total)
	}
}
