package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrSampleWidth is returned for sample widths other than 8, 16 or 32 bits.
var ErrSampleWidth = errors.New("sample width out of range")

// ValidSampleWidth reports whether bits is a supported sample width.
func ValidSampleWidth(bits int) bool {
	return bits == 8 || bits == 16 || bits == 32
}

// Samples returns the signed little-endian samples packed in body. A trailing
// partial sample is dropped. The sequence can be ranged over any number of times.
func Samples(bits int, body []byte) (iter.Seq[int32], error) {
	if !ValidSampleWidth(bits) {
		return nil, fmt.Errorf("%w: %d bits", ErrSampleWidth, bits)
	}
	step := bits / 8
	n := len(body) / step

	return func(yield func(int32) bool) {
		for i := 0; i < n; i++ {
			chunk := body[i*step : (i+1)*step]
			var v int32
			switch step {
			case 1:
				v = int32(int8(chunk[0]))
			case 2:
				v = int32(int16(binary.LittleEndian.Uint16(chunk)))
			default:
				v = int32(binary.LittleEndian.Uint32(chunk))
			}
			if !yield(v) {
				return
			}
		}
	}, nil
}

// DecodeSamples collects Samples into a slice.
func DecodeSamples(bits int, body []byte) ([]int32, error) {
	seq, err := Samples(bits, body)
	if err != nil {
		return nil, err
	}
	out := slices.Collect(seq)
	if out == nil {
		out = []int32{}
	}
	return out, nil
}
