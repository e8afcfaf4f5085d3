package dsp

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// CachedDSP keeps the window and FFT plan for a fixed frame size so the
// telemetry path does not rebuild them per datagram.
type CachedDSP struct {
	mu            sync.Mutex
	hammingWindow []float64
	windowSum     float64
	windowed      []complex128
	fftSize       int
	fft           *fourier.CmplxFFT
}

// NewCachedDSP creates a processor for frames of size samples.
func NewCachedDSP(size int) *CachedDSP {
	c := &CachedDSP{}
	c.resize(size)
	return c
}

func (c *CachedDSP) resize(size int) {
	c.fftSize = size
	c.hammingWindow = Hamming(size)
	c.windowSum = windowSum(c.hammingWindow)
	c.windowed = make([]complex128, size)
	if size > 0 {
		c.fft = fourier.NewCmplxFFT(size)
	} else {
		c.fft = nil
	}
}

// FFTAndDBFS matches the package-level FFTAndDBFS. Frames of another size
// fall back to the uncached path.
func (c *CachedDSP) FFTAndDBFS(samples []complex64) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}

	c.mu.Lock()
	if len(samples) != c.fftSize || c.fft == nil {
		c.mu.Unlock()
		return FFTAndDBFS(samples)
	}
	c.windowed = ApplyWindow(c.windowed, samples, c.hammingWindow)
	fft := c.fft.Coefficients(nil, c.windowed)
	sum := c.windowSum
	c.mu.Unlock()

	return normalize(fft, sum)
}

// UpdateSize rebuilds the cached resources for a new frame size.
func (c *CachedDSP) UpdateSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size != c.fftSize {
		c.resize(size)
	}
}

// Size returns the cached frame size.
func (c *CachedDSP) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fftSize
}
