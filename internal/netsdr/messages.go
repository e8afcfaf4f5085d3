package netsdr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rjboer/netsdr/internal/protocol"
)

// MaxFrequency is the largest value the 5-byte frequency field can carry.
const MaxFrequency = 1<<40 - 1

// DefaultSampleRate is the IQ output rate configured on connect.
const DefaultSampleRate = 100_000

var ErrFrequencyRange = errors.New("frequency out of range")

func setControlItem(code protocol.ControlItemCode, params []byte) []byte {
	// Parameters here are a few bytes, well under the length limit.
	b, _ := protocol.EncodeControlItem(protocol.KindSetControlItem, code, params)
	return b
}

// frequencyMessage encodes [channel, frequency as 5 bytes little-endian].
func frequencyMessage(hz uint64, channel byte) ([]byte, error) {
	if hz > MaxFrequency {
		return nil, fmt.Errorf("%w: %d Hz", ErrFrequencyRange, hz)
	}
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], hz)
	params := append([]byte{channel}, le[:5]...)
	return setControlItem(protocol.CodeReceiverFrequency, params), nil
}

// configurationMessages are sent, in order, after every new connection:
// IQ output sample rate, RF filter auto select, A/D modes (dither and gain on).
func configurationMessages(sampleRate uint32) [][]byte {
	rate := make([]byte, 5)
	binary.LittleEndian.PutUint32(rate[1:], sampleRate)
	return [][]byte{
		setControlItem(protocol.CodeIQOutputDataSampleRate, rate),
		setControlItem(protocol.CodeRFFilter, []byte{0x00, 0x00}),
		setControlItem(protocol.CodeADModes, []byte{0x00, 0x03}),
	}
}
