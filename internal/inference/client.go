// Package inference talks to a model inference server over HTTP. The
// pipeline keeps all chunking, shifting and ensembling on this side; the
// server only runs the neural networks, receiving raw float32 audio or
// spectra and returning per-target estimates.
//
// Audio crosses the wire as base64-encoded little-endian float32 samples in
// planar channel order. Spectra cross as interleaved real/imaginary pairs
// per bin, in channel-frame-bin order.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tphakala/go-stem-separator/internal/dsp"
)

// Default request timeout; separation windows are large and the server may
// queue model loads behind them.
const defaultTimeout = 10 * time.Minute

// Client is a thin JSON-over-HTTP client for the inference server.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a client for the server at baseURL. A zero timeout uses
// the default.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// WaitForHealthy blocks until the server responds to health checks or the
// context is cancelled.
func (c *Client) WaitForHealthy(ctx context.Context, interval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return fmt.Errorf("inference: create health request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Info("inference server not ready, retrying", zap.Duration("interval", interval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// separateRequest is the wire form of one inference call.
type separateRequest struct {
	Model      string `json:"model"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Frames     int    `json:"frames"`
	// Audio is base64 float32 LE planar samples; empty for spectral calls.
	Audio string `json:"audio,omitempty"`
	// Spectrum is base64 float32 LE interleaved re/im values; empty for
	// waveform calls.
	Spectrum  string `json:"spectrum,omitempty"`
	NumFrames int    `json:"num_frames,omitempty"`
	Bins      int    `json:"bins,omitempty"`
	// Overlap is the chunk-overlap fraction for backends that chunk
	// server-side.
	Overlap float64 `json:"overlap,omitempty"`
}

type separateResponse struct {
	Targets []string `json:"targets"`
	Stems   []string `json:"stems"`
	Frames  int      `json:"frames"`
	// Spectrum is set instead of Stems for spectral transforms.
	Spectrum string `json:"spectrum,omitempty"`
	Error    string `json:"error,omitempty"`
}

// separate posts one request and decodes the response.
func (c *Client) separate(ctx context.Context, req separateRequest) (*separateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("inference: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/separate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference: %s: %w", req.Model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference: %s: unexpected status %s", req.Model, resp.Status)
	}

	var out separateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("inference: %s: server error: %s", req.Model, out.Error)
	}
	return &out, nil
}

// loadModel asks the server to move a model into accelerator memory.
func (c *Client) loadModel(ctx context.Context, model string) error {
	return c.modelLifecycle(ctx, model, "load")
}

// unloadModel asks the server to evict a model.
func (c *Client) unloadModel(ctx context.Context, model string) error {
	return c.modelLifecycle(ctx, model, "unload")
}

func (c *Client) modelLifecycle(ctx context.Context, model, action string) error {
	url := fmt.Sprintf("%s/v1/models/%s/%s", c.baseURL, model, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("inference: create %s request: %w", action, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference: %s %s: %w", action, model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference: %s %s: unexpected status %s", action, model, resp.Status)
	}
	return nil
}

// encodeWaveform packs a waveform as base64 float32 LE planar samples.
func encodeWaveform(w dsp.Waveform) string {
	buf := make([]byte, 0, w.Channels()*w.Len()*4)
	var scratch [4]byte
	for ch := range w {
		for _, v := range w[ch] {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(float32(v)))
			buf = append(buf, scratch[:]...)
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// decodeWaveform unpacks a base64 planar float32 payload.
func decodeWaveform(s string, channels, frames int) (dsp.Waveform, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("inference: decode stem payload: %w", err)
	}
	if len(raw) != channels*frames*4 {
		return nil, fmt.Errorf("inference: stem payload is %d bytes, want %d", len(raw), channels*frames*4)
	}

	w := dsp.Zeros(channels, frames)
	idx := 0
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < frames; i++ {
			bits := binary.LittleEndian.Uint32(raw[idx:])
			w[ch][i] = float64(math.Float32frombits(bits))
			idx += 4
		}
	}
	return w, nil
}
