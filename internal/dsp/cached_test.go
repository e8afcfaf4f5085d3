package dsp

import (
	"math/cmplx"
	"testing"
)

func rampFrame(n int) []complex64 {
	raw := make([]int32, 2*n)
	for i := range raw {
		raw[i] = int32(i*16 - n*16)
	}
	return ToIQ(raw, FullScale(16))
}

func TestCachedDSPMatchesUncached(t *testing.T) {
	const size = 512
	cached := NewCachedDSP(size)
	frame := rampFrame(size)

	fft1, dbfs1 := cached.FFTAndDBFS(frame)
	fft2, dbfs2 := FFTAndDBFS(frame)
	if len(fft1) != len(fft2) || len(dbfs1) != len(dbfs2) {
		t.Fatalf("length mismatch: %d/%d vs %d/%d", len(fft1), len(dbfs1), len(fft2), len(dbfs2))
	}
	for i := range fft1 {
		if d := cmplx.Abs(fft1[i] - fft2[i]); d > 1e-10 {
			t.Fatalf("bin %d differs by %g", i, d)
		}
		if dbfs1[i] != dbfs2[i] {
			t.Fatalf("dBFS bin %d: %v vs %v", i, dbfs1[i], dbfs2[i])
		}
	}
}

func TestCachedDSPUpdateSize(t *testing.T) {
	cached := NewCachedDSP(256)
	if cached.Size() != 256 {
		t.Fatalf("size = %d", cached.Size())
	}
	cached.UpdateSize(512)
	if cached.Size() != 512 {
		t.Fatalf("size after update = %d", cached.Size())
	}
	fft, dbfs := cached.FFTAndDBFS(make([]complex64, 512))
	if len(fft) != 512 || len(dbfs) != 512 {
		t.Fatalf("lengths = %d, %d", len(fft), len(dbfs))
	}
}

func TestCachedDSPOtherFrameSize(t *testing.T) {
	cached := NewCachedDSP(512)
	fft, dbfs := cached.FFTAndDBFS(make([]complex64, 256))
	if len(fft) != 256 || len(dbfs) != 256 {
		t.Fatalf("fallback lengths = %d, %d", len(fft), len(dbfs))
	}
	if cached.Size() != 512 {
		t.Fatalf("fallback must not resize, size = %d", cached.Size())
	}
}

func TestCachedDSPEmptyInput(t *testing.T) {
	fft, dbfs := NewCachedDSP(512).FFTAndDBFS(nil)
	if len(fft) != 0 || len(dbfs) != 0 {
		t.Fatalf("lengths = %d, %d", len(fft), len(dbfs))
	}
}

func BenchmarkCachedDSP(b *testing.B) {
	// 2048 IQ pairs fill one 8192-byte 16-bit datagram.
	const size = 2048
	cached := NewCachedDSP(size)
	frame := rampFrame(size)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cached.FFTAndDBFS(frame)
	}
}
