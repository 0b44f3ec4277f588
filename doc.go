// Package separator provides ensemble audio source separation in pure Go.
//
// The pipeline combines several pretrained separation models into a single
// high-quality result: vocals are extracted by a multi-backend band-split
// ensemble, and the instrumental residual is further split into bass, drums
// and other by a weighted ensemble of four stem models. All DSP (STFT
// framing, windowed chunking, circular-shift ensembling, crossover filtering
// and overlap-add reconstruction) runs in-process; the neural networks
// themselves run behind pluggable backend interfaces.
//
// # Quick Start
//
//	opts := separator.DefaultOptions()
//	session, err := separator.NewSession(opts, backends, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := session.Separate(ctx, []string{"song.wav"}, "out/")
//
// Each input produces one WAV per stem, named {base}_{stem}.wav, plus the
// instrumental residual as {base}_instrum.wav.
//
// # Options
//
// Options control ensemble shift count, chunk overlaps, blend weights and
// output encoding. Overlap fractions are clamped to [0, 0.99]; all other
// values are validated at session construction. See [DefaultOptions] for the
// calibrated defaults.
package separator
