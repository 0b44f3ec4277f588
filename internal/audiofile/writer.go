package audiofile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/tphakala/go-stem-separator/internal/dsp"
)

// SampleFormat selects the on-disk sample encoding of written stems.
type SampleFormat int

const (
	// FormatFloat32 writes 32-bit IEEE float samples (WAV format tag 3).
	FormatFloat32 SampleFormat = iota
	// FormatPCM16 writes 16-bit signed PCM.
	FormatPCM16
	// FormatPCM24 writes 24-bit signed PCM.
	FormatPCM24
)

// ParseSampleFormat maps a config string to a SampleFormat.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "", "FLOAT", "float", "float32":
		return FormatFloat32, nil
	case "PCM_16", "pcm16":
		return FormatPCM16, nil
	case "PCM_24", "pcm24":
		return FormatPCM24, nil
	default:
		return FormatFloat32, fmt.Errorf("audiofile: unknown sample format %q", s)
	}
}

// WAV layout constants.
const (
	wavFmtChunkSize  = 16
	wavFormatPCM     = 1
	wavFormatFloat   = 3
	bitsPerByte      = 8
	writerBufferSize = 256 * 1024
)

// WriteWAV writes a waveform to a WAV file in the requested sample format.
// The whole waveform is in memory, so chunk sizes are written exactly and
// no header patching is needed.
func WriteWAV(path string, w dsp.Waveform, sampleRate int, format SampleFormat) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audiofile: create output: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	bw := bufio.NewWriterSize(f, writerBufferSize)

	channels := w.Channels()
	frames := w.Len()
	bitDepth, formatTag := formatLayout(format)
	bytesPerFrame := channels * bitDepth / bitsPerByte
	dataSize := uint32(frames * bytesPerFrame)

	if err = writeHeader(bw, sampleRate, bitDepth, channels, formatTag, dataSize); err != nil {
		return err
	}

	sample := make([]byte, bitDepth/bitsPerByte)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			encodeSample(sample, w[ch][i], format)
			if _, err = bw.Write(sample); err != nil {
				return fmt.Errorf("audiofile: write samples: %w", err)
			}
		}
	}

	if err = bw.Flush(); err != nil {
		return fmt.Errorf("audiofile: flush output: %w", err)
	}
	return nil
}

func formatLayout(format SampleFormat) (bitDepth int, formatTag uint16) {
	switch format {
	case FormatPCM16:
		return bitsPerSample16, wavFormatPCM
	case FormatPCM24:
		return bitsPerSample24, wavFormatPCM
	default:
		return bitsPerSample32, wavFormatFloat
	}
}

func writeHeader(bw *bufio.Writer, sampleRate, bitDepth, channels int, formatTag uint16, dataSize uint32) error {
	byteRate := sampleRate * channels * bitDepth / bitsPerByte
	blockAlign := channels * bitDepth / bitsPerByte

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], wavFmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:22], formatTag)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitDepth))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("audiofile: write header: %w", err)
	}
	return nil
}

func encodeSample(dst []byte, v float64, format SampleFormat) {
	switch format {
	case FormatPCM16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(clamp(v)*maxInt16)))
	case FormatPCM24:
		s := int32(clamp(v) * maxInt24)
		dst[0] = byte(s)
		dst[1] = byte(s >> 8)
		dst[2] = byte(s >> 16)
	default:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
