package filter

import (
	"fmt"
	"math"
)

// BandType selects the passband of a Butterworth design.
type BandType int

const (
	// Lowpass passes frequencies below the cutoff.
	Lowpass BandType = iota
	// Highpass passes frequencies above the cutoff.
	Highpass
)

// Biquad is a single second-order IIR section in direct form II transposed,
// normalized so a0 == 1. First-order sections are represented with
// B2 == A2 == 0.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// DesignButterworth designs an order-N digital Butterworth filter as a
// cascade of biquad sections, via the RBJ bilinear-transform biquads with
// the section Q values of the Butterworth pole constellation.
//
// A Butterworth lowpass/highpass pair at the same cutoff is
// power-complementary; running either filter forward-backward (FiltFilt)
// squares its magnitude and cancels its phase, which turns an order-3
// Butterworth into the zero-phase order-6 Linkwitz-Riley crossover used by
// the vocal band-split.
func DesignButterworth(order int, cutoffHz, sampleRate float64, band BandType) ([]Biquad, error) {
	if order < 1 {
		return nil, fmt.Errorf("butterworth: invalid order %d", order)
	}
	nyquist := sampleRate / 2
	if cutoffHz <= 0 || cutoffHz >= nyquist {
		return nil, fmt.Errorf("butterworth: cutoff %g Hz outside (0, %g)", cutoffHz, nyquist)
	}

	omega := 2 * math.Pi * cutoffHz / sampleRate
	sections := make([]Biquad, 0, (order+1)/2)

	// Second-order sections: pole pairs at θ_k from the imaginary axis give
	// Q_k = -1 / (2·cos θ_k).
	for k := 1; k <= order/2; k++ {
		theta := math.Pi/2 + float64(2*k-1)*math.Pi/float64(2*order)
		q := -1 / (2 * math.Cos(theta))
		sections = append(sections, rbjBiquad(omega, q, band))
	}

	// Odd orders carry one real pole.
	if order%2 == 1 {
		sections = append(sections, firstOrder(omega, band))
	}

	return sections, nil
}

// rbjBiquad computes a second-order low/highpass section from the RBJ audio
// EQ cookbook formulas.
func rbjBiquad(omega, q float64, band BandType) Biquad {
	sinW, cosW := math.Sincos(omega)
	alpha := sinW / (2 * q)
	a0 := 1 + alpha

	var b0, b1, b2 float64
	switch band {
	case Highpass:
		b0 = (1 + cosW) / 2
		b1 = -(1 + cosW)
		b2 = (1 + cosW) / 2
	default:
		b0 = (1 - cosW) / 2
		b1 = 1 - cosW
		b2 = (1 - cosW) / 2
	}

	return Biquad{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: -2 * cosW / a0,
		A2: (1 - alpha) / a0,
	}
}

// firstOrder computes a first-order section via the bilinear transform of
// the real Butterworth pole.
func firstOrder(omega float64, band BandType) Biquad {
	k := math.Tan(omega / 2)
	a1 := (k - 1) / (k + 1)

	if band == Highpass {
		b0 := 1 / (k + 1)
		return Biquad{B0: b0, B1: -b0, A1: a1}
	}
	b0 := k / (k + 1)
	return Biquad{B0: b0, B1: b0, A1: a1}
}

// apply runs the section over x in place using direct form II transposed,
// with the initial state set to the steady-state response for the first
// sample. The steady-state initialization suppresses the start-up transient
// that would otherwise leak through the forward-backward pass.
func (bq Biquad) apply(x []float64) {
	if len(x) == 0 {
		return
	}

	// Steady state for constant input c: z1 = c·(b1+b2 − (a1+a2)·g),
	// z2 = c·(b2 − a2·g) with g the DC gain.
	denom := 1 + bq.A1 + bq.A2
	var g float64
	if math.Abs(denom) > 1e-30 {
		g = (bq.B0 + bq.B1 + bq.B2) / denom
	}
	c := x[0]
	z1 := c * (bq.B1 + bq.B2 - (bq.A1+bq.A2)*g)
	z2 := c * (bq.B2 - bq.A2*g)

	for i, v := range x {
		y := bq.B0*v + z1
		z1 = bq.B1*v - bq.A1*y + z2
		z2 = bq.B2*v - bq.A2*y
		x[i] = y
	}
}

// edgePadFactor sizes the odd-reflection extension used by FiltFilt,
// relative to the section count.
const edgePadFactor = 3

// FiltFilt applies the biquad cascade forward and backward, producing a
// zero-phase filtered copy of x. The signal is extended at both ends by an
// odd reflection so edge transients settle outside the returned region.
func FiltFilt(sections []Biquad, x []float64) []float64 {
	n := len(x)
	if n == 0 || len(sections) == 0 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}

	padLen := edgePadFactor * (2*len(sections) + 1)
	if padLen > n-1 {
		padLen = n - 1
	}

	ext := make([]float64, n+2*padLen)
	for i := 0; i < padLen; i++ {
		ext[i] = 2*x[0] - x[padLen-i]
		ext[n+padLen+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[padLen:], x)

	for _, s := range sections {
		s.apply(ext)
	}
	reverse(ext)
	for _, s := range sections {
		s.apply(ext)
	}
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[padLen:padLen+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
