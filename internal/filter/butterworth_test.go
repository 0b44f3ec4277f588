package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-stem-separator/internal/testutil"
)

const (
	crossoverTestRate   = 44100
	crossoverTestHz     = 10000.0
	crossoverTestOrder  = 3
	crossoverTestLength = 44100

	// A zero-phase Butterworth lowpass/highpass pair of the same order and
	// cutoff is power-complementary; their sum reconstructs the input to
	// well under a thousandth of full scale.
	reconstructTolerance = 1e-3
)

func sineTone(freqHz float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freqHz * float64(i) / float64(sampleRate))
	}
	return out
}

func rms(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(s)))
}

// TestDesignButterworth_SectionCount verifies the cascade layout per order.
func TestDesignButterworth_SectionCount(t *testing.T) {
	tests := []struct {
		name     string
		order    int
		sections int
	}{
		{"order_1", 1, 1},
		{"order_2", 2, 1},
		{"order_3", 3, 2},
		{"order_4", 4, 2},
		{"order_6", 6, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sections, err := DesignButterworth(tt.order, crossoverTestHz, crossoverTestRate, Lowpass)
			require.NoError(t, err)
			assert.Len(t, sections, tt.sections)
		})
	}
}

// TestDesignButterworth_InvalidParams rejects out-of-range design requests.
func TestDesignButterworth_InvalidParams(t *testing.T) {
	tests := []struct {
		name     string
		order    int
		cutoffHz float64
	}{
		{"zero_order", 0, crossoverTestHz},
		{"negative_cutoff", crossoverTestOrder, -1},
		{"cutoff_at_nyquist", crossoverTestOrder, crossoverTestRate / 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DesignButterworth(tt.order, tt.cutoffHz, crossoverTestRate, Lowpass)
			assert.Error(t, err)
		})
	}
}

// TestFiltFilt_CrossoverReconstruction verifies that the lowpass and highpass
// halves of the crossover sum back to the original signal.
func TestFiltFilt_CrossoverReconstruction(t *testing.T) {
	low, err := DesignButterworth(crossoverTestOrder, crossoverTestHz, crossoverTestRate, Lowpass)
	require.NoError(t, err)
	high, err := DesignButterworth(crossoverTestOrder, crossoverTestHz, crossoverTestRate, Highpass)
	require.NoError(t, err)

	// Mixed content on both sides of the crossover.
	n := crossoverTestLength
	x := make([]float64, n)
	for i := range x {
		ti := float64(i)
		x[i] = 0.5*math.Sin(2*math.Pi*440*ti/crossoverTestRate) +
			0.3*math.Sin(2*math.Pi*5000*ti/crossoverTestRate) +
			0.2*math.Sin(2*math.Pi*14000*ti/crossoverTestRate)
	}

	lowOut := FiltFilt(low, x)
	highOut := FiltFilt(high, x)

	require.Len(t, lowOut, n)
	require.Len(t, highOut, n)
	testutil.AssertNoNaNOrInf(t, lowOut)
	testutil.AssertNoNaNOrInf(t, highOut)

	// Skip the first and last few hundred samples where reflection padding
	// residue concentrates.
	const edge = 500
	for i := edge; i < n-edge; i++ {
		assert.InDelta(t, x[i], lowOut[i]+highOut[i], reconstructTolerance,
			"reconstruction error at sample %d", i)
	}
}

// TestFiltFilt_BandAttenuation verifies that tones far outside each band are
// strongly attenuated and tones inside pass at nearly unit gain.
func TestFiltFilt_BandAttenuation(t *testing.T) {
	low, err := DesignButterworth(crossoverTestOrder, crossoverTestHz, crossoverTestRate, Lowpass)
	require.NoError(t, err)
	high, err := DesignButterworth(crossoverTestOrder, crossoverTestHz, crossoverTestRate, Highpass)
	require.NoError(t, err)

	tests := []struct {
		name     string
		sections []Biquad
		freqHz   float64
		pass     bool
	}{
		{"lowpass_passes_1kHz", low, 1000, true},
		{"lowpass_rejects_18kHz", low, 18000, false},
		{"highpass_passes_18kHz", high, 18000, true},
		{"highpass_rejects_1kHz", high, 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tone := sineTone(tt.freqHz, crossoverTestRate, crossoverTestLength)
			out := FiltFilt(tt.sections, tone)

			// Measure away from the edges.
			const edge = 2000
			inRMS := rms(tone[edge : crossoverTestLength-edge])
			outRMS := rms(out[edge : crossoverTestLength-edge])
			gainDB := 20 * math.Log10(outRMS/inRMS)

			if tt.pass {
				assert.InDelta(t, 0.0, gainDB, 0.5, "passband gain %f dB", gainDB)
			} else {
				// Zero-phase doubling gives 12 dB/octave per design order.
				assert.Less(t, gainDB, -20.0, "stopband gain %f dB", gainDB)
			}
		})
	}
}

// TestFiltFilt_ZeroPhase verifies that a filtered tone inside the passband
// keeps its phase: the output tracks the input sample for sample.
func TestFiltFilt_ZeroPhase(t *testing.T) {
	low, err := DesignButterworth(crossoverTestOrder, crossoverTestHz, crossoverTestRate, Lowpass)
	require.NoError(t, err)

	tone := sineTone(500, crossoverTestRate, crossoverTestLength)
	out := FiltFilt(low, tone)

	const edge = 2000
	for i := edge; i < crossoverTestLength-edge; i++ {
		assert.InDelta(t, tone[i], out[i], 0.01, "phase drift at sample %d", i)
	}
}

// TestFiltFilt_ConstantSignal verifies lowpass DC transparency: filtfilt of a
// constant is the constant.
func TestFiltFilt_ConstantSignal(t *testing.T) {
	low, err := DesignButterworth(crossoverTestOrder, crossoverTestHz, crossoverTestRate, Lowpass)
	require.NoError(t, err)

	x := make([]float64, 4096)
	for i := range x {
		x[i] = 0.7
	}
	out := FiltFilt(low, x)

	for i, v := range out {
		assert.InDelta(t, 0.7, v, 1e-6, "DC error at sample %d", i)
	}
}
