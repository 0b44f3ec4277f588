// Package audiofile reads mix inputs into the pipeline's waveform
// representation and writes separated stems back out as WAV files.
package audiofile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/go-stem-separator/internal/dsp"
)

// Read buffer size in frames; large buffers keep decoder overhead low.
const readBufferFrames = 65536

// Normalization limits per PCM bit depth.
const (
	maxInt16 = 32767.0
	maxInt24 = 8388607.0
	maxInt32 = 2147483647.0

	bitsPerSample16 = 16
	bitsPerSample24 = 24
	bitsPerSample32 = 32
)

// ReadWAV decodes a WAV file into a stereo float64 waveform in [-1, 1] and
// returns it with the file's sample rate. Mono input is duplicated to
// stereo; more than two channels is rejected.
func ReadWAV(path string) (dsp.Waveform, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audiofile: open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("audiofile: invalid WAV file: %s", path)
	}

	format := decoder.Format()
	channels := format.NumChannels
	rate := format.SampleRate
	bitDepth := int(decoder.BitDepth)
	wavFormat := int(decoder.WavAudioFormat)

	if channels < 1 || channels > 2 {
		return nil, 0, fmt.Errorf("audiofile: unsupported channel count %d in %s", channels, path)
	}

	// Format 3 is IEEE float; the decoder hands the raw 32-bit sample words
	// through as ints, so they are reinterpreted rather than normalized.
	isFloat := wavFormat == wavFormatFloat
	if isFloat && bitDepth != bitsPerSample32 {
		return nil, 0, fmt.Errorf("audiofile: unsupported %d-bit float WAV: %s", bitDepth, path)
	}
	if !isFloat && wavFormat != wavFormatPCM {
		return nil, 0, fmt.Errorf("audiofile: unsupported WAV format tag %d in %s", wavFormat, path)
	}

	invMax := 1.0 / pcmMaxValue(bitDepth)
	buf := &audio.IntBuffer{
		Data:   make([]int, readBufferFrames*channels),
		Format: format,
	}

	data := make([][]float64, channels)
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("audiofile: decode %s: %w", path, err)
		}
		if n == 0 {
			break
		}
		frames := n / channels
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				raw := buf.Data[i*channels+ch]
				var v float64
				if isFloat {
					v = float64(math.Float32frombits(uint32(int32(raw))))
				} else {
					v = float64(raw) * invMax
				}
				data[ch] = append(data[ch], v)
			}
		}
	}

	if channels == 1 {
		return dsp.FromMono(data[0]), rate, nil
	}
	return dsp.Waveform(data), rate, nil
}

func pcmMaxValue(bitDepth int) float64 {
	switch bitDepth {
	case bitsPerSample24:
		return maxInt24
	case bitsPerSample32:
		return maxInt32
	default:
		return maxInt16
	}
}
