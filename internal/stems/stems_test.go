package stems

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tphakala/go-stem-separator/internal/dsp"
	"github.com/tphakala/go-stem-separator/internal/testutil"
)

const (
	testRate = 44100
	testLen  = 20000
)

// Stem fractions the stub backends report, in canonical order. They sum to 1
// so the stub is self-consistent with the mix.
var stubFractions = [4]float64{0.3, 0.2, 0.4, 0.1}

// stubBackend is a deterministic linear backend. residentCount tracks how
// many backends hold accelerator memory so tests can assert the one-at-a-time
// contract.
type stubBackend struct {
	name      string
	stemCount int

	acquires int
	releases int
	resident *int

	// offset, when non-zero, is added to every output sample to model a
	// non-phase-inverting artifact.
	offset float64

	failSeparate bool
}

func (b *stubBackend) Name() string   { return b.name }
func (b *stubBackend) StemCount() int { return b.stemCount }

func (b *stubBackend) Acquire(context.Context) error {
	b.acquires++
	if b.resident != nil {
		*b.resident++
	}
	return nil
}

func (b *stubBackend) Release() {
	b.releases++
	if b.resident != nil {
		*b.resident--
	}
}

func (b *stubBackend) Separate(_ context.Context, mix dsp.Waveform, overlap float64) ([]dsp.Waveform, error) {
	if b.resident != nil && *b.resident != 1 {
		return nil, fmt.Errorf("%d backends resident during separate", *b.resident)
	}
	if b.failSeparate {
		return nil, fmt.Errorf("accelerator out of memory")
	}

	outs := make([]dsp.Waveform, b.stemCount)
	for s := 0; s < numCoreStems; s++ {
		outs[s] = addOffset(mix.Scale(stubFractions[s]), b.offset)
	}
	// 6-stem models: carve guitar and piano out of other.
	if b.stemCount > numCoreStems {
		outs[StemOther] = addOffset(mix.Scale(stubFractions[StemOther]-0.1), b.offset)
		outs[stemGuitar] = addOffset(mix.Scale(0.05), b.offset)
		outs[stemPiano] = addOffset(mix.Scale(0.05), b.offset)
	}
	return outs, nil
}

func addOffset(w dsp.Waveform, offset float64) dsp.Waveform {
	if offset == 0 {
		return w
	}
	out := w.Clone()
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] += offset
		}
	}
	return out
}

func evenSpec(b Backend, phasePair bool) BackendSpec {
	return BackendSpec{
		Backend:      b,
		PhasePair:    phasePair,
		WeightDrums:  1,
		WeightBass:   1,
		WeightOther:  1,
		WeightVocals: 1,
	}
}

func testSignals() (mix, vocals, instrumental dsp.Waveform) {
	mix = testutil.SineWaveform(440, testRate, testLen)
	vocals = mix.Scale(0.1)
	instrumental = mix.Sub(vocals)
	return mix, vocals, instrumental
}

// TestNew_RequiresBackends verifies an empty backend set is rejected.
func TestNew_RequiresBackends(t *testing.T) {
	_, err := New(nil, 0.1, nil)
	assert.ErrorIs(t, err, ErrNoBackends)
}

// TestExtractStems_Closure verifies the defining invariant of the final
// pass: vocals + bass + drums + other reconstructs the mix exactly.
func TestExtractStems_Closure(t *testing.T) {
	resident := 0
	specs := []BackendSpec{
		evenSpec(&stubBackend{name: "a", stemCount: 4, resident: &resident}, false),
		evenSpec(&stubBackend{name: "b", stemCount: 4, resident: &resident}, false),
	}

	e, err := New(specs, 0.1, zap.NewNop())
	require.NoError(t, err)

	mix, vocals, instrumental := testSignals()
	result, err := e.ExtractStems(context.Background(), mix, vocals, instrumental)
	require.NoError(t, err)

	sum := vocals.Add(result.Bass).Add(result.Drums).Add(result.Other)
	testutil.AssertWaveformsClose(t, mix, sum, testutil.DefaultTolerance)
}

// TestExtractStems_AcquireRelease verifies every backend is loaded exactly
// once, released exactly once, and never resident concurrently with another.
func TestExtractStems_AcquireRelease(t *testing.T) {
	resident := 0
	backends := []*stubBackend{
		{name: "a", stemCount: 4, resident: &resident},
		{name: "b", stemCount: 4, resident: &resident},
		{name: "c", stemCount: 4, resident: &resident},
	}
	specs := make([]BackendSpec, len(backends))
	for i, b := range backends {
		specs[i] = evenSpec(b, false)
	}

	e, err := New(specs, 0.1, zap.NewNop())
	require.NoError(t, err)

	mix, vocals, instrumental := testSignals()
	_, err = e.ExtractStems(context.Background(), mix, vocals, instrumental)
	require.NoError(t, err)

	for _, b := range backends {
		assert.Equal(t, 1, b.acquires, "%s acquire count", b.name)
		assert.Equal(t, 1, b.releases, "%s release count", b.name)
	}
	assert.Zero(t, resident, "backend left resident")
}

// TestExtractStems_ReleaseAfterFailure verifies a failed separation still
// releases the backend and the error names it.
func TestExtractStems_ReleaseAfterFailure(t *testing.T) {
	bad := &stubBackend{name: "broken", stemCount: 4, failSeparate: true}
	specs := []BackendSpec{evenSpec(bad, false)}

	e, err := New(specs, 0.1, zap.NewNop())
	require.NoError(t, err)

	mix, vocals, instrumental := testSignals()
	_, err = e.ExtractStems(context.Background(), mix, vocals, instrumental)
	require.ErrorContains(t, err, "broken")
	assert.Equal(t, 1, bad.releases, "release must run after failure")
}

// TestExtractStems_PhasePair verifies the phase-cancellation pairing removes
// artifacts that do not invert with the signal: an offset-injecting backend
// run phase-paired matches a clean backend run plain.
func TestExtractStems_PhasePair(t *testing.T) {
	mix, vocals, instrumental := testSignals()

	clean, err := New([]BackendSpec{
		evenSpec(&stubBackend{name: "clean", stemCount: 4}, false),
	}, 0.1, zap.NewNop())
	require.NoError(t, err)
	wantResult, err := clean.ExtractStems(context.Background(), mix, vocals, instrumental)
	require.NoError(t, err)

	paired, err := New([]BackendSpec{
		evenSpec(&stubBackend{name: "dirty", stemCount: 4, offset: 0.25}, true),
	}, 0.1, zap.NewNop())
	require.NoError(t, err)
	gotResult, err := paired.ExtractStems(context.Background(), mix, vocals, instrumental)
	require.NoError(t, err)

	testutil.AssertWaveformsClose(t, wantResult.Drums, gotResult.Drums, 1e-9)
	testutil.AssertWaveformsClose(t, wantResult.Bass, gotResult.Bass, 1e-9)
	testutil.AssertWaveformsClose(t, wantResult.Other, gotResult.Other, 1e-9)
}

// TestExtractStems_SixStemFolding verifies guitar and piano fold into other:
// a 6-stem backend whose extra stems sum to the missing other content matches
// a plain 4-stem backend.
func TestExtractStems_SixStemFolding(t *testing.T) {
	mix, vocals, instrumental := testSignals()

	four, err := New([]BackendSpec{
		evenSpec(&stubBackend{name: "four", stemCount: 4}, false),
	}, 0.1, zap.NewNop())
	require.NoError(t, err)
	wantResult, err := four.ExtractStems(context.Background(), mix, vocals, instrumental)
	require.NoError(t, err)

	six, err := New([]BackendSpec{
		evenSpec(&stubBackend{name: "six", stemCount: 6}, false),
	}, 0.1, zap.NewNop())
	require.NoError(t, err)
	gotResult, err := six.ExtractStems(context.Background(), mix, vocals, instrumental)
	require.NoError(t, err)

	testutil.AssertWaveformsClose(t, wantResult.Other, gotResult.Other, 1e-9)
	testutil.AssertWaveformsClose(t, wantResult.Drums, gotResult.Drums, 1e-9)
	testutil.AssertWaveformsClose(t, wantResult.Bass, gotResult.Bass, 1e-9)
}

// TestBackendSpec_Weight verifies the per-stem weight lookup.
func TestBackendSpec_Weight(t *testing.T) {
	spec := BackendSpec{WeightDrums: 1, WeightBass: 2, WeightOther: 3, WeightVocals: 4}

	assert.Equal(t, 1.0, spec.weight(StemDrums))
	assert.Equal(t, 2.0, spec.weight(StemBass))
	assert.Equal(t, 3.0, spec.weight(StemOther))
	assert.Equal(t, 4.0, spec.weight(StemVocals))
}
