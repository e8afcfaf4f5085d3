package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	return append(shifted, data[:half]...)
}

// FFTAndDBFS windows normalized IQ samples with a Hamming window, transforms
// them and returns the centered spectrum and its magnitude in dBFS.
func FFTAndDBFS(samples []complex64) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}
	win := Hamming(len(samples))
	windowed := ApplyWindow(nil, samples, win)
	fft := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	return normalize(fft, windowSum(win))
}

func windowSum(win []float64) float64 {
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	return sum
}

func normalize(fft []complex128, sumWin float64) ([]complex128, []float64) {
	for i := range fft {
		fft[i] /= complex(sumWin, 0)
	}
	shifted := FFTShift(fft)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = math.Inf(-1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag)
	}
	return shifted, dbfs
}
