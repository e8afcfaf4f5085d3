package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// =======================
// NetSDR message header
// =======================
//
// Wire format (little-endian):
//
//	uint16 header   kind<<13 | length
//	uint16 code     control items only
//	uint16 sequence data items only
//	[]byte body

// Kind is the 3-bit message type carried in the top of the header word.
type Kind uint8

const (
	KindSetControlItem Kind = iota
	KindCurrentControlItem
	KindControlItemRange
	KindAck
	KindDataItem0
	KindDataItem1
	KindDataItem2
	KindDataItem3

	// KindNak has no 3-bit encoding. The device signals NAK with the bare
	// two-byte frame 0x0002.
	KindNak Kind = 0xFF
)

func (k Kind) String() string {
	switch k {
	case KindSetControlItem:
		return "SetControlItem"
	case KindCurrentControlItem:
		return "CurrentControlItem"
	case KindControlItemRange:
		return "ControlItemRange"
	case KindAck:
		return "Ack"
	case KindNak:
		return "Nak"
	case KindDataItem0, KindDataItem1, KindDataItem2, KindDataItem3:
		return fmt.Sprintf("DataItem%d", k-KindDataItem0)
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsDataItem reports whether messages of this kind carry a sequence number.
func (k Kind) IsDataItem() bool {
	return k >= KindDataItem0 && k <= KindDataItem3
}

// IsControlItem reports whether messages of this kind carry a control item code.
func (k Kind) IsControlItem() bool {
	return k <= KindAck
}

// ControlItemCode identifies a device parameter.
type ControlItemCode uint16

const (
	CodeNone                   ControlItemCode = 0x0000
	CodeReceiverState          ControlItemCode = 0x0018
	CodeReceiverFrequency      ControlItemCode = 0x0020
	CodeRFFilter               ControlItemCode = 0x0044
	CodeADModes                ControlItemCode = 0x008A
	CodeIQOutputDataSampleRate ControlItemCode = 0x00B8
)

var codeNames = map[ControlItemCode]string{
	CodeNone:                   "None",
	CodeReceiverState:          "ReceiverState",
	CodeReceiverFrequency:      "ReceiverFrequency",
	CodeRFFilter:               "RFFilter",
	CodeADModes:                "ADModes",
	CodeIQOutputDataSampleRate: "IQOutputDataSampleRate",
}

func (c ControlItemCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ControlItemCode(0x%04x)", uint16(c))
}

// Known reports whether c is part of the closed code set.
func (c ControlItemCode) Known() bool {
	_, ok := codeNames[c]
	return ok
}

const (
	headerLen   = 2
	codeLen     = 2
	sequenceLen = 2

	// MaxMessageLength is the largest length the 13-bit header field can carry.
	MaxMessageLength = 0x1FFF

	lengthMask = 0x1FFF
	kindShift  = 13
)

var (
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrInvalidKind    = errors.New("invalid message kind")
)

// Message is a decoded control channel or data message.
type Message struct {
	Kind     Kind
	Code     ControlItemCode
	Sequence uint16
	Body     []byte
}

//
// =======================
// Encoding
// =======================
//

func header(kind Kind, length int) (uint16, error) {
	if kind > KindDataItem3 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKind, kind)
	}
	if length > MaxMessageLength {
		return 0, fmt.Errorf("%w: %d > %d", ErrMessageTooLong, length, MaxMessageLength)
	}
	return uint16(kind)<<kindShift | uint16(length), nil
}

// EncodeControlItem builds a control item message: header, code, parameters.
func EncodeControlItem(kind Kind, code ControlItemCode, parameters []byte) ([]byte, error) {
	total := headerLen + codeLen + len(parameters)
	hdr, err := header(kind, total)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, total)
	binary.LittleEndian.PutUint16(msg[0:2], hdr)
	binary.LittleEndian.PutUint16(msg[2:4], uint16(code))
	copy(msg[4:], parameters)
	return msg, nil
}

// EncodeDataItem builds a data item message: header followed by parameters.
func EncodeDataItem(kind Kind, parameters []byte) ([]byte, error) {
	total := headerLen + len(parameters)
	hdr, err := header(kind, total)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, total)
	binary.LittleEndian.PutUint16(msg[0:2], hdr)
	copy(msg[2:], parameters)
	return msg, nil
}

//
// =======================
// Decoding
// =======================
//

// ReadHeader splits a header word into kind and total message length.
func ReadHeader(b []byte) (Kind, int, bool) {
	if len(b) < headerLen {
		return 0, 0, false
	}
	hdr := binary.LittleEndian.Uint16(b[0:2])
	kind := Kind(hdr >> kindShift)
	return kind, int(hdr & lengthMask), true
}

// Decode parses one complete message. ok is false when the declared length
// disagrees with len(b), the message is truncated, or a control item carries
// an unknown code (Code is CodeNone in that case).
func Decode(b []byte) (msg Message, ok bool) {
	kind, length, ok := ReadHeader(b)
	if !ok || length != len(b) {
		return Message{Kind: kind}, false
	}

	if kind == KindSetControlItem && length == headerLen {
		return Message{Kind: KindNak, Body: []byte{}}, true
	}
	if length < headerLen+codeLen {
		return Message{Kind: kind}, false
	}

	field := binary.LittleEndian.Uint16(b[2:4])
	body := append([]byte{}, b[4:]...)

	if kind.IsControlItem() {
		code := ControlItemCode(field)
		if !code.Known() {
			return Message{Kind: kind, Code: CodeNone, Body: body}, false
		}
		return Message{Kind: kind, Code: code, Body: body}, true
	}
	return Message{Kind: kind, Code: CodeNone, Sequence: field, Body: body}, true
}

// SplitMessages is a bufio.SplitFunc that yields whole messages using the
// length carried in each header.
func SplitMessages(data []byte, atEOF bool) (advance int, token []byte, err error) {
	_, length, ok := ReadHeader(data)
	if !ok {
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	if length < headerLen {
		// Corrupt header; hand the rest back as-is so Decode rejects it.
		return len(data), data, nil
	}
	if len(data) < length {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	return length, data[:length], nil
}
