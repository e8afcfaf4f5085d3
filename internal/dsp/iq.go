package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// FullScale returns the largest magnitude a signed sample of the given bit
// width can take.
func FullScale(bits int) float64 {
	if bits <= 0 || bits > 32 {
		return 1
	}
	return math.Ldexp(1, bits-1)
}

// ToIQ pairs interleaved I/Q samples into complex values normalized to
// fullScale. An odd trailing sample is ignored.
func ToIQ(samples []int32, fullScale float64) []complex64 {
	if fullScale == 0 {
		fullScale = 1
	}
	out := make([]complex64, len(samples)/2)
	for i := range out {
		re := float64(samples[2*i]) / fullScale
		im := float64(samples[2*i+1]) / fullScale
		out[i] = complex64(complex(re, im))
	}
	return out
}

// PowerDBFS returns the mean power of interleaved I/Q samples, |I+jQ|^2
// averaged over pairs, relative to fullScale in dB. Silence yields -Inf.
func PowerDBFS(samples []int32, fullScale float64) float64 {
	pairs := len(samples) / 2
	if pairs == 0 {
		return math.Inf(-1)
	}
	if fullScale == 0 {
		fullScale = 1
	}
	x := make([]float64, 2*pairs)
	for i := range x {
		x[i] = float64(samples[i]) / fullScale
	}
	mean := floats.Dot(x, x) / float64(pairs)
	if mean == 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mean)
}

// PeakBin returns the index and value of the strongest bin.
func PeakBin(dbfs []float64) (int, float64) {
	if len(dbfs) == 0 {
		return -1, math.Inf(-1)
	}
	idx := floats.MaxIdx(dbfs)
	return idx, dbfs[idx]
}
