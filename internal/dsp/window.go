// Package dsp derives spectrum and power figures from decoded IQ samples.
package dsp

import "math"

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned. A single-point
// window is [1], so a one-pair frame passes through unscaled.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	step := 2 * math.Pi / float64(n-1)
	for i := range win {
		win[i] = 0.54 - 0.46*math.Cos(step*float64(i))
	}
	return win
}

// ApplyWindow scales each IQ pair by the matching window weight and writes
// the result into dst, growing it when too small. It returns nil when the
// window length differs from the frame length.
func ApplyWindow(dst []complex128, samples []complex64, window []float64) []complex128 {
	if len(samples) != len(window) {
		return nil
	}
	if cap(dst) < len(samples) {
		dst = make([]complex128, len(samples))
	}
	dst = dst[:len(samples)]
	for i, v := range samples {
		w := window[i]
		dst[i] = complex(float64(real(v))*w, float64(imag(v))*w)
	}
	return dst
}
