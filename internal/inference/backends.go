package inference

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/tphakala/go-stem-separator/internal/dsp"
	"github.com/tphakala/go-stem-separator/internal/stft"
	"github.com/tphakala/go-stem-separator/internal/vocals"
)

// SegmentBackend adapts a server-hosted whole-window model to the vocal
// extractor's segment interface. Each Process call is one inference request.
type SegmentBackend struct {
	client     *Client
	model      string
	windowSize int
	targets    []string
}

var _ vocals.SegmentModel = (*SegmentBackend)(nil)

// NewSegmentBackend binds a named server model with a fixed native window and
// target list.
func NewSegmentBackend(client *Client, model string, windowSize int, targets []string) *SegmentBackend {
	return &SegmentBackend{client: client, model: model, windowSize: windowSize, targets: targets}
}

func (b *SegmentBackend) Name() string      { return b.model }
func (b *SegmentBackend) WindowSize() int   { return b.windowSize }
func (b *SegmentBackend) Targets() []string { return b.targets }

// Process sends one window and decodes the per-target estimates.
func (b *SegmentBackend) Process(ctx context.Context, window dsp.Waveform) ([]dsp.Waveform, error) {
	resp, err := b.client.separate(ctx, separateRequest{
		Model:      b.model,
		SampleRate: vocals.SampleRate,
		Channels:   window.Channels(),
		Frames:     window.Len(),
		Audio:      encodeWaveform(window),
	})
	if err != nil {
		return nil, err
	}
	return decodeStems(resp, window.Channels(), window.Len(), len(b.targets))
}

// SpectralBackend adapts a server-hosted spectrogram-to-spectrogram model to
// the chunk processor's interface. The STFT stays on this side; only the
// complex spectrum crosses the wire.
type SpectralBackend struct {
	client    *Client
	model     string
	nfft      int
	hop       int
	chunkSize int
}

// NewSpectralBackend binds a named server model with its fixed STFT geometry.
func NewSpectralBackend(client *Client, model string, nfft, hop, chunkSize int) *SpectralBackend {
	return &SpectralBackend{client: client, model: model, nfft: nfft, hop: hop, chunkSize: chunkSize}
}

func (b *SpectralBackend) NFFT() int      { return b.nfft }
func (b *SpectralBackend) Hop() int       { return b.hop }
func (b *SpectralBackend) ChunkSize() int { return b.chunkSize }

// Transform sends one spectrogram and decodes the estimate with identical
// geometry.
func (b *SpectralBackend) Transform(ctx context.Context, spec *stft.Spectrogram) (*stft.Spectrogram, error) {
	resp, err := b.client.separate(ctx, separateRequest{
		Model:      b.model,
		SampleRate: vocals.SampleRate,
		Channels:   spec.Channels(),
		Spectrum:   encodeSpectrogram(spec),
		NumFrames:  spec.NumFrames(),
		Bins:       spec.Bins(),
	})
	if err != nil {
		return nil, err
	}
	if resp.Spectrum == "" {
		return nil, fmt.Errorf("inference: %s: response carries no spectrum", b.model)
	}
	return decodeSpectrogram(resp.Spectrum, spec)
}

// StemBackend adapts a server-hosted multi-stem model to the stem ensembler's
// backend interface. Acquire and Release map to the server's model lifecycle
// endpoints so at most one large model occupies accelerator memory.
type StemBackend struct {
	client    *Client
	model     string
	stemCount int
	log       *zap.Logger
}

// NewStemBackend binds a named server model emitting stemCount stems.
func NewStemBackend(client *Client, model string, stemCount int, log *zap.Logger) *StemBackend {
	if log == nil {
		log = zap.NewNop()
	}
	return &StemBackend{client: client, model: model, stemCount: stemCount, log: log}
}

func (b *StemBackend) Name() string   { return b.model }
func (b *StemBackend) StemCount() int { return b.stemCount }

// Acquire loads the model server-side.
func (b *StemBackend) Acquire(ctx context.Context) error {
	return b.client.loadModel(ctx, b.model)
}

// Release evicts the model. Failures are logged, not returned: eviction is
// best effort and the next Acquire will surface a genuinely stuck server.
func (b *StemBackend) Release() {
	if err := b.client.unloadModel(context.Background(), b.model); err != nil {
		b.log.Warn("model unload failed", zap.String("model", b.model), zap.Error(err))
	}
}

// Separate sends the full waveform; chunking is the model runtime's own.
func (b *StemBackend) Separate(ctx context.Context, mix dsp.Waveform, overlap float64) ([]dsp.Waveform, error) {
	resp, err := b.client.separate(ctx, separateRequest{
		Model:      b.model,
		SampleRate: vocals.SampleRate,
		Channels:   mix.Channels(),
		Frames:     mix.Len(),
		Audio:      encodeWaveform(mix),
		Overlap:    overlap,
	})
	if err != nil {
		return nil, err
	}
	return decodeStems(resp, mix.Channels(), resp.Frames, b.stemCount)
}

// decodeStems unpacks every stem payload, validating the count.
func decodeStems(resp *separateResponse, channels, frames, want int) ([]dsp.Waveform, error) {
	if len(resp.Stems) != want {
		return nil, fmt.Errorf("inference: got %d stems, want %d", len(resp.Stems), want)
	}
	if resp.Frames > 0 {
		frames = resp.Frames
	}
	out := make([]dsp.Waveform, len(resp.Stems))
	for i, payload := range resp.Stems {
		w, err := decodeWaveform(payload, channels, frames)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// encodeSpectrogram packs complex frames as base64 float32 LE re/im pairs in
// channel-frame-bin order.
func encodeSpectrogram(spec *stft.Spectrogram) string {
	channels := spec.Channels()
	frames := spec.NumFrames()
	bins := spec.Bins()

	buf := make([]byte, 0, channels*frames*bins*8)
	var scratch [4]byte
	for ch := 0; ch < channels; ch++ {
		for f := 0; f < frames; f++ {
			for k := 0; k < bins; k++ {
				c := spec.Frames[ch][f][k]
				binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(float32(real(c))))
				buf = append(buf, scratch[:]...)
				binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(float32(imag(c))))
				buf = append(buf, scratch[:]...)
			}
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// decodeSpectrogram unpacks a spectrum payload into the geometry of ref.
func decodeSpectrogram(s string, ref *stft.Spectrogram) (*stft.Spectrogram, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("inference: decode spectrum payload: %w", err)
	}

	channels := ref.Channels()
	frames := ref.NumFrames()
	bins := ref.Bins()
	if len(raw) != channels*frames*bins*8 {
		return nil, fmt.Errorf("inference: spectrum payload is %d bytes, want %d", len(raw), channels*frames*bins*8)
	}

	out := &stft.Spectrogram{
		Frames: make([][][]complex128, channels),
		NFFT:   ref.NFFT,
		Hop:    ref.Hop,
	}
	idx := 0
	for ch := 0; ch < channels; ch++ {
		out.Frames[ch] = make([][]complex128, frames)
		for f := 0; f < frames; f++ {
			frame := make([]complex128, bins)
			for k := 0; k < bins; k++ {
				re := math.Float32frombits(binary.LittleEndian.Uint32(raw[idx:]))
				im := math.Float32frombits(binary.LittleEndian.Uint32(raw[idx+4:]))
				frame[k] = complex(float64(re), float64(im))
				idx += 8
			}
			out.Frames[ch][f] = frame
		}
	}
	return out, nil
}
