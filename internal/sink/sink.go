// Package sink persists decoded IQ samples.
package sink

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Sink accepts decoded samples in arrival order. Append must not truncate
// content written by earlier calls.
type Sink interface {
	Append(samples []int32) error
	Close() error
}

// FrameAppender is implemented by sinks that keep the datagram sequence number
// alongside the samples.
type FrameAppender interface {
	AppendFrame(sequence uint16, samples []int32) error
}

// Kind names a sink implementation.
type Kind string

const (
	KindFile    Kind = "file"
	KindMemory  Kind = "memory"
	KindParquet Kind = "parquet"
	KindRedis   Kind = "redis"
)

// MaxSampleBits is the widest sample k stores without truncation. The
// byte-oriented sinks keep two bytes per sample.
func (k Kind) MaxSampleBits() int {
	if k == KindParquet {
		return 32
	}
	return 16
}

// Config selects and configures a sink.
type Config struct {
	Kind      Kind   `yaml:"kind" json:"kind"`
	Path      string `yaml:"path" json:"path"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisKey  string `yaml:"redis_key" json:"redis_key"`
}

// DefaultPath is the file written when no path is configured.
const DefaultPath = "samples.bin"

// ParseKind validates a sink kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindFile, nil
	case KindFile, KindMemory, KindParquet, KindRedis:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported sink kind %q", s)
	}
}

// Open builds the sink described by cfg. metadata describes the capture
// and is stored by sinks that keep a header, currently parquet.
func Open(cfg Config, metadata map[string]string) (Sink, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindMemory:
		return NewBuffer(), nil
	case KindParquet:
		path := cfg.Path
		if path == "" {
			path = "samples.parquet"
		}
		return OpenParquet(path, metadata)
	case KindRedis:
		return DialRedis(cfg.RedisAddr, cfg.RedisKey)
	default:
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return OpenFile(path)
	}
}

// encodeInt16LE packs each sample as a two-byte little-endian value, the
// on-disk layout of a 16-bit capture. Wider samples are truncated, which
// Kind.MaxSampleBits lets callers rule out.
func encodeInt16LE(samples []int32) []byte {
	buf := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v)))
	}
	return buf
}

// DecodeInt16LE reverses the two-byte layout written by the file sinks.
func DecodeInt16LE(b []byte) []int32 {
	out := make([]int32, len(b)/2)
	for i := range out {
		out[i] = int32(int16(binary.LittleEndian.Uint16(b[2*i:])))
	}
	return out
}
