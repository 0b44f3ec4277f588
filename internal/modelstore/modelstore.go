// Package modelstore manages the pretrained model artifacts the separation
// backends load: a registry of fixed remote URLs and a downloader that
// fetches missing files into a local model directory.
//
// Downloads are streamed into a uniquely named partial file and atomically
// renamed into place on success, so an interrupted download can never
// clobber a working checkpoint. An optional SHA-256 prefix is verified
// before the rename; a mismatched file is discarded and never used.
package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrHashMismatch reports a downloaded artifact whose SHA-256 does not start
// with the expected prefix.
var ErrHashMismatch = errors.New("modelstore: artifact hash mismatch")

// userAgent identifies downloads to the artifact hosts.
const userAgent = "go-stem-separator"

// Artifact is one remotely hosted model file.
type Artifact struct {
	// Name is the local file name inside the model directory.
	Name string
	// URL is the fixed remote location.
	URL string
	// SHA256Prefix, when non-empty, is matched against the hex digest of
	// the downloaded bytes.
	SHA256Prefix string
}

// Default artifacts of the integrated backends. The four Demucs-family stem
// checkpoints are fetched by their own runtime's hub mechanism and are not
// listed here.
var DefaultArtifacts = []Artifact{
	{
		Name: "MDX23C-8KFFT-InstVoc_HQ.ckpt",
		URL:  "https://github.com/TRvlvr/model_repo/releases/download/all_public_uvr_models/MDX23C-8KFFT-InstVoc_HQ.ckpt",
	},
	{
		Name: "model_2_stem_full_band_8k.yaml",
		URL:  "https://raw.githubusercontent.com/TRvlvr/application_data/main/mdx_model_data/mdx_c_configs/model_2_stem_full_band_8k.yaml",
	},
	{
		Name: "model_vocals_segm_models_sdr_9.77.ckpt",
		URL:  "https://github.com/ZFTurbo/Music-Source-Separation-Training/releases/download/v1.0.0/model_vocals_segm_models_sdr_9.77.ckpt",
	},
	{
		Name: "config_vocals_segm_models.yaml",
		URL:  "https://github.com/ZFTurbo/Music-Source-Separation-Training/releases/download/v1.0.0/config_vocals_segm_models.yaml",
	},
	{
		Name: "UVR-MDX-NET-Voc_FT.onnx",
		URL:  "https://github.com/TRvlvr/model_repo/releases/download/all_public_uvr_models/UVR-MDX-NET-Voc_FT.onnx",
	},
}

// Store downloads artifacts into a local model directory on first use.
type Store struct {
	dir    string
	client *http.Client
	log    *zap.Logger
}

// New creates a store rooted at dir. A nil client uses http.DefaultClient.
func New(dir string, client *http.Client, log *zap.Logger) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, client: client, log: log}
}

// Dir returns the local model directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the local path an artifact resolves to.
func (s *Store) Path(a Artifact) string { return filepath.Join(s.dir, a.Name) }

// Ensure returns the local path of the artifact, downloading it first if it
// is not already present. A download or hash failure is fatal to the run:
// the pipeline never starts with missing weights.
func (s *Store) Ensure(ctx context.Context, a Artifact) (string, error) {
	dst := s.Path(a)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("modelstore: create model dir: %w", err)
	}

	s.log.Info("downloading model artifact",
		zap.String("name", a.Name),
		zap.String("url", a.URL))

	if err := DownloadURLToFile(ctx, s.client, a.URL, dst, a.SHA256Prefix); err != nil {
		return "", err
	}
	return dst, nil
}

// EnsureAll fetches every artifact that is missing locally.
func (s *Store) EnsureAll(ctx context.Context, artifacts []Artifact) error {
	for _, a := range artifacts {
		if _, err := s.Ensure(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// DownloadURLToFile downloads the object at url to dst. The body is written
// to a temp file next to dst and moved into place only after it completes
// and, when hashPrefix is non-empty, its SHA-256 digest matches.
func DownloadURLToFile(ctx context.Context, client *http.Client, url, dst, hashPrefix string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("modelstore: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("modelstore: download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("modelstore: download %s: unexpected status %s", url, resp.Status)
	}

	tmp := dst + "." + uuid.New().String() + ".partial"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("modelstore: create partial file: %w", err)
	}
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	digest := sha256.New()
	if _, err = io.Copy(io.MultiWriter(f, digest), resp.Body); err != nil {
		return fmt.Errorf("modelstore: write %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("modelstore: close %s: %w", tmp, err)
	}

	if hashPrefix != "" {
		got := hex.EncodeToString(digest.Sum(nil))
		if !strings.HasPrefix(got, hashPrefix) {
			err = fmt.Errorf("%w: expected prefix %q, got %q", ErrHashMismatch, hashPrefix, got)
			return err
		}
	}

	if err = os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("modelstore: finalize %s: %w", dst, err)
	}
	return nil
}
