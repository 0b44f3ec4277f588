// Command stemsep separates music files into vocals, bass, drums and other
// stems using a multi-model ensemble pipeline.
//
// Usage:
//
//	stemsep -output out/ song.wav
//	stemsep -vocals-only -format PCM_24 song.wav
//	stemsep -config stemsep.toml *.wav
//
// Model weights are downloaded on first run into the model directory. The
// neural networks run on an inference server; point -server at it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	separator "github.com/tphakala/go-stem-separator"
	"github.com/tphakala/go-stem-separator/internal/inference"
	"github.com/tphakala/go-stem-separator/internal/modelstore"
)

// Native window geometry of the server-hosted vocal models. Fixed by the
// published checkpoints, not tunable.
const (
	instVocWindow  = 523264 // hop 1024, 2*256 frames
	vitLargeWindow = 261120 // hop 1024, 2*128 frames

	vocFTNFFT  = 7680
	vocFTHop   = 1024
	vocFTChunk = 261120
)

// healthInterval is the poll interval while waiting for the inference server.
const healthInterval = 2 * time.Second

// Canonical stem backend set, in ensemble order.
var stemModels = []struct {
	name  string
	stems int
}{
	{"htdemucs_ft", 4},
	{"htdemucs", 4},
	{"htdemucs_6s", 6},
	{"hdemucs_mmi", 4},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	defaults := separator.DefaultOptions()

	configPath := flag.String("config", "", "Path to TOML configuration file")
	server := flag.String("server", "http://localhost:8090", "Inference server base URL")
	modelDir := flag.String("models", defaultModelDir(), "Model artifact directory")
	output := flag.String("output", "output", "Output directory")
	bigShifts := flag.Int("bigshifts", defaults.BigShifts, "Circular-shift ensemble size")
	overlapDemucs := flag.Float64("overlap-demucs", defaults.OverlapDemucs, "Stem backend chunk overlap [0, 0.99]")
	overlapVOCFT := flag.Float64("overlap-vocft", defaults.OverlapVOCFT, "Chunk processor overlap [0, 0.99]")
	overlapVitLarge := flag.Int("overlap-vitlarge", defaults.OverlapVitLarge, "VitLarge hop divisor")
	overlapInstVoc := flag.Int("overlap-instvoc", defaults.OverlapInstVoc, "InstVoc hop divisor")
	weightInstVoc := flag.Float64("weight-instvoc", defaults.WeightInstVoc, "InstVoc blend weight")
	weightVOCFT := flag.Float64("weight-vocft", defaults.WeightVOCFT, "VOCFT blend weight")
	weightVitLarge := flag.Float64("weight-vitlarge", defaults.WeightVitLarge, "VitLarge blend weight")
	useVOCFT := flag.Bool("use-vocft", false, "Enable the third vocal backend")
	vocalsOnly := flag.Bool("vocals-only", false, "Skip stem separation, produce vocals and instrumental only")
	format := flag.String("format", defaults.OutputFormat, "Output sample format: FLOAT, PCM_16, PCM_24")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] input.wav [input2.wav ...]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		return fmt.Errorf("no input files")
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := defaults
	opts.BigShifts = *bigShifts
	opts.OverlapDemucs = *overlapDemucs
	opts.OverlapVOCFT = *overlapVOCFT
	opts.OverlapVitLarge = *overlapVitLarge
	opts.OverlapInstVoc = *overlapInstVoc
	opts.WeightInstVoc = *weightInstVoc
	opts.WeightVOCFT = *weightVOCFT
	opts.WeightVitLarge = *weightVitLarge
	opts.UseVOCFT = *useVOCFT
	opts.VocalsOnly = *vocalsOnly
	opts.OutputFormat = *format

	serverURL := *server
	dir := *modelDir
	outDir := *output

	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		applyConfig(cfg, &opts, &serverURL, &dir, &outDir)
		// Explicit flags override file values.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "server":
				serverURL = *server
			case "models":
				dir = *modelDir
			case "output":
				outDir = *output
			case "bigshifts":
				opts.BigShifts = *bigShifts
			case "overlap-demucs":
				opts.OverlapDemucs = *overlapDemucs
			case "overlap-vocft":
				opts.OverlapVOCFT = *overlapVOCFT
			case "overlap-vitlarge":
				opts.OverlapVitLarge = *overlapVitLarge
			case "overlap-instvoc":
				opts.OverlapInstVoc = *overlapInstVoc
			case "weight-instvoc":
				opts.WeightInstVoc = *weightInstVoc
			case "weight-vocft":
				opts.WeightVOCFT = *weightVOCFT
			case "weight-vitlarge":
				opts.WeightVitLarge = *weightVitLarge
			case "use-vocft":
				opts.UseVOCFT = *useVOCFT
			case "vocals-only":
				opts.VocalsOnly = *vocalsOnly
			case "format":
				opts.OutputFormat = *format
			}
		})
	}

	opts.Progress = func(step int, description string, total int) {
		fmt.Printf("[%d/%d] %s\n", step, total, description)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := modelstore.New(dir, nil, logger)
	if err := store.EnsureAll(ctx, modelstore.DefaultArtifacts); err != nil {
		return err
	}

	client := inference.NewClient(serverURL, 0, logger)
	logger.Info("waiting for inference server", zap.String("url", serverURL))
	if err := client.WaitForHealthy(ctx, healthInterval); err != nil {
		return fmt.Errorf("inference server unavailable: %w", err)
	}

	backends := separator.Backends{
		VitLarge: inference.NewSegmentBackend(client, "vitlarge", vitLargeWindow, []string{"vocals", "other"}),
		InstVoc:  inference.NewSegmentBackend(client, "instvoc", instVocWindow, []string{"Vocals", "Instrumental"}),
	}
	if opts.UseVOCFT {
		backends.VocFT = inference.NewSpectralBackend(client, "vocft", vocFTNFFT, vocFTHop, vocFTChunk)
	}
	if !opts.VocalsOnly {
		for _, m := range stemModels {
			backends.Stems = append(backends.Stems, inference.NewStemBackend(client, m.name, m.stems, logger))
		}
	}

	session, err := separator.NewSession(opts, backends, logger)
	if err != nil {
		return err
	}

	outputs, err := session.Separate(ctx, inputs, outDir)
	if err != nil {
		return err
	}

	for _, path := range outputs {
		fmt.Println(path)
	}
	return nil
}

func applyConfig(cfg *fileConfig, opts *separator.Options, server, modelDir, output *string) {
	if cfg.Server != "" {
		*server = cfg.Server
	}
	if cfg.ModelDir != "" {
		*modelDir = cfg.ModelDir
	}
	if cfg.Output != "" {
		*output = cfg.Output
	}
	if cfg.BigShifts != 0 {
		opts.BigShifts = cfg.BigShifts
	}
	if cfg.OverlapDemucs != 0 {
		opts.OverlapDemucs = cfg.OverlapDemucs
	}
	if cfg.OverlapVOCFT != 0 {
		opts.OverlapVOCFT = cfg.OverlapVOCFT
	}
	if cfg.OverlapVitLarge != 0 {
		opts.OverlapVitLarge = cfg.OverlapVitLarge
	}
	if cfg.OverlapInstVoc != 0 {
		opts.OverlapInstVoc = cfg.OverlapInstVoc
	}
	if cfg.WeightInstVoc != 0 {
		opts.WeightInstVoc = cfg.WeightInstVoc
	}
	if cfg.WeightVOCFT != 0 {
		opts.WeightVOCFT = cfg.WeightVOCFT
	}
	if cfg.WeightVitLarge != 0 {
		opts.WeightVitLarge = cfg.WeightVitLarge
	}
	if cfg.UseVOCFT {
		opts.UseVOCFT = true
	}
	if cfg.VocalsOnly {
		opts.VocalsOnly = true
	}
	if cfg.Format != "" {
		opts.OutputFormat = cfg.Format
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func defaultModelDir() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "models"
	}
	return cache + "/stemsep/models"
}
