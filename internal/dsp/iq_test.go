package dsp

import (
	"math"
	"testing"
)

func TestFullScale(t *testing.T) {
	cases := map[int]float64{8: 128, 16: 32768, 32: 2147483648, 0: 1, 40: 1}
	for bits, want := range cases {
		if got := FullScale(bits); got != want {
			t.Errorf("FullScale(%d) = %v, want %v", bits, got, want)
		}
	}
}

func TestToIQ(t *testing.T) {
	got := ToIQ([]int32{16384, -16384, 32767, 0, 5}, 32768)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != complex(0.5, -0.5) {
		t.Fatalf("first = %v", got[0])
	}
	if math.Abs(float64(real(got[1]))-32767.0/32768) > 1e-6 || imag(got[1]) != 0 {
		t.Fatalf("second = %v", got[1])
	}
}

func TestPowerDBFS(t *testing.T) {
	if p := PowerDBFS([]int32{128, 0, 0, -128, 7}, 128); math.Abs(p) > 1e-9 {
		t.Fatalf("full scale power = %v", p)
	}
	// Half amplitude is -6.02 dB.
	if p := PowerDBFS([]int32{64, 0}, 128); math.Abs(p+6.0206) > 1e-3 {
		t.Fatalf("half scale power = %v", p)
	}
	if p := PowerDBFS([]int32{0, 0}, 128); !math.IsInf(p, -1) {
		t.Fatalf("silence = %v", p)
	}
	if p := PowerDBFS([]int32{5}, 128); !math.IsInf(p, -1) {
		t.Fatalf("single value = %v", p)
	}
}

func TestPeakBin(t *testing.T) {
	idx, v := PeakBin([]float64{-40, -3, -60})
	if idx != 1 || v != -3 {
		t.Fatalf("PeakBin = %d, %v", idx, v)
	}
	if idx, _ := PeakBin(nil); idx != -1 {
		t.Fatalf("empty idx = %d", idx)
	}
}
