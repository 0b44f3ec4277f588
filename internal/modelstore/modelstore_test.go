package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayload = "fake model weights"

func testDigestPrefix() string {
	sum := sha256.Sum256([]byte(testPayload))
	return hex.EncodeToString(sum[:])[:16]
}

func newArtifactServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestEnsure_Downloads verifies a missing artifact is fetched, verified and
// placed at its final path.
func TestEnsure_Downloads(t *testing.T) {
	srv := newArtifactServer(t, http.StatusOK, testPayload)
	dir := t.TempDir()

	store := New(dir, srv.Client(), nil)
	artifact := Artifact{Name: "model.ckpt", URL: srv.URL, SHA256Prefix: testDigestPrefix()}

	path, err := store.Ensure(context.Background(), artifact)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model.ckpt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testPayload, string(data))
}

// TestEnsure_SkipsExisting verifies a present artifact is never re-fetched.
func TestEnsure_SkipsExisting(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(testPayload))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	artifact := Artifact{Name: "model.ckpt", URL: srv.URL}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.ckpt"), []byte(testPayload), 0o644))

	store := New(dir, srv.Client(), nil)
	_, err := store.Ensure(context.Background(), artifact)
	require.NoError(t, err)
	assert.Zero(t, hits, "existing artifact must not be downloaded")
}

// TestEnsure_HashMismatch verifies a corrupted download is fatal and leaves
// nothing behind.
func TestEnsure_HashMismatch(t *testing.T) {
	srv := newArtifactServer(t, http.StatusOK, "corrupted bytes")
	dir := t.TempDir()

	store := New(dir, srv.Client(), nil)
	artifact := Artifact{Name: "model.ckpt", URL: srv.URL, SHA256Prefix: testDigestPrefix()}

	_, err := store.Ensure(context.Background(), artifact)
	require.ErrorIs(t, err, ErrHashMismatch)

	assertDirEmpty(t, dir)
}

// TestEnsure_ServerError verifies non-200 responses fail cleanly.
func TestEnsure_ServerError(t *testing.T) {
	srv := newArtifactServer(t, http.StatusNotFound, "not here")
	dir := t.TempDir()

	store := New(dir, srv.Client(), nil)
	_, err := store.Ensure(context.Background(), Artifact{Name: "model.ckpt", URL: srv.URL})
	require.Error(t, err)

	assertDirEmpty(t, dir)
}

// TestDownloadURLToFile_NoPartialLeftovers verifies the partial file is
// cleaned up on failure and absent after success.
func TestDownloadURLToFile_NoPartialLeftovers(t *testing.T) {
	srv := newArtifactServer(t, http.StatusOK, testPayload)
	dir := t.TempDir()
	dst := filepath.Join(dir, "model.ckpt")

	err := DownloadURLToFile(context.Background(), srv.Client(), srv.URL, dst, "")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".partial"),
			"partial file left behind: %s", e.Name())
	}
}

// TestEnsureAll verifies every listed artifact is fetched.
func TestEnsureAll(t *testing.T) {
	srv := newArtifactServer(t, http.StatusOK, testPayload)
	dir := t.TempDir()

	store := New(dir, srv.Client(), nil)
	artifacts := []Artifact{
		{Name: "a.ckpt", URL: srv.URL},
		{Name: "b.yaml", URL: srv.URL},
	}

	require.NoError(t, store.EnsureAll(context.Background(), artifacts))
	for _, a := range artifacts {
		_, err := os.Stat(store.Path(a))
		assert.NoError(t, err, "artifact %s missing", a.Name)
	}
}

// TestEnsure_ContextCancelled verifies cancellation aborts the download.
func TestEnsure_ContextCancelled(t *testing.T) {
	srv := newArtifactServer(t, http.StatusOK, testPayload)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := New(dir, srv.Client(), nil)
	_, err := store.Ensure(ctx, Artifact{Name: "model.ckpt", URL: srv.URL})
	assert.Error(t, err)
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "directory should be empty")
}
