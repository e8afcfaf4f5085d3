package sink

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// FileSink appends samples to a binary file.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sample file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Path returns the file being written.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Append(samples []int32) error {
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("append to %s: %w", s.path, os.ErrClosed)
	}
	if _, err := s.f.Write(encodeInt16LE(samples)); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Buffer is an in-memory sink using the same layout as FileSink.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func NewBuffer() *Buffer { return &Buffer{} }

func (b *Buffer) Append(samples []int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.buf.Write(encodeInt16LE(samples))
	return err
}

func (b *Buffer) Close() error { return nil }

// Bytes returns a copy of everything appended so far.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// Samples decodes the buffered bytes back into sample values.
func (b *Buffer) Samples() []int32 {
	return DecodeInt16LE(b.Bytes())
}
