package dsp

import "math"

// HannPeriodic returns a periodic Hann window of length n, matching the
// analysis window used for STFT framing (w[i] = 0.5·(1 − cos(2πi/n))).
func HannPeriodic(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// HannSymmetric returns a symmetric Hann window of length n, used to taper
// chunks before overlap-add accumulation. The endpoints are exactly zero,
// so adjacent chunks must overlap for the accumulated window mass to stay
// positive everywhere.
func HannSymmetric(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
