package sink

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/segmentio/parquet-go"
)

// SampleRow is one sample in a parquet capture.
type SampleRow struct {
	Sequence int32 `parquet:"sequence"`
	Index    int64 `parquet:"index"`
	Value    int32 `parquet:"value"`
}

// ParquetSink writes samples as parquet rows. The footer is written on Close,
// so a capture file is complete only after Close returns.
type ParquetSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *parquet.GenericWriter[SampleRow]
	next   int64
}

// OpenParquet creates path and attaches metadata as key/value pairs.
func OpenParquet(path string, metadata map[string]string) (*ParquetSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make([]parquet.WriterOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, parquet.KeyValueMetadata(k, metadata[k]))
	}

	return &ParquetSink{
		file:   f,
		writer: parquet.NewGenericWriter[SampleRow](f, opts...),
	}, nil
}

func (p *ParquetSink) Append(samples []int32) error {
	return p.AppendFrame(0, samples)
}

// AppendFrame records samples together with the datagram sequence number.
func (p *ParquetSink) AppendFrame(sequence uint16, samples []int32) error {
	if len(samples) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return fmt.Errorf("parquet sink closed")
	}

	rows := make([]SampleRow, len(samples))
	for i, v := range samples {
		rows[i] = SampleRow{Sequence: int32(sequence), Index: p.next, Value: v}
		p.next++
	}
	if _, err := p.writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return nil
}

func (p *ParquetSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	werr := p.writer.Close()
	ferr := p.file.Close()
	p.writer = nil
	if werr != nil {
		return fmt.Errorf("finish parquet file: %w", werr)
	}
	return ferr
}
