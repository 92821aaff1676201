// Package sink opens the destination a dump is written to
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

// Compression selects how a file sink encodes the dump
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
)

// ErrExists is returned when the destination file already exists
var ErrExists = errors.New("destination file already exists")

// Sink is where the dump goes
type Sink struct {
	io.Writer
	closers []io.Closer
	path    string
	written int64
}

// Open returns a sink for path. An empty path means stdout, which is never
// compressed and never closed. A file is created exclusively
func Open(path string, compression Compression) (*Sink, error) {
	if path == "" {
		return &Sink{Writer: os.Stdout}, nil
	}

	switch compression {
	case "", CompressionNone, CompressionSnappy:
	default:
		return nil, fmt.Errorf("unsupported compression: %s (must be none or snappy)", compression)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	s := &Sink{Writer: f, closers: []io.Closer{f}, path: path}
	if compression == CompressionSnappy {
		zw := snappy.NewBufferedWriter(f)
		s.Writer = zw
		s.closers = []io.Closer{zw, f}
	}
	return s, nil
}

// IsFile reports whether the sink writes to a file
func (s *Sink) IsFile() bool {
	return s.path != ""
}

// Path returns the file path, empty for stdout
func (s *Sink) Path() string {
	return s.path
}

// Write writes p to the destination and counts the bytes accepted
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.Writer.Write(p)
	s.written += int64(n)
	return n, err
}

// Written returns the number of uncompressed bytes written so far
func (s *Sink) Written() int64 {
	return s.written
}

// Close flushes and closes the file. It is a no-op for stdout
func (s *Sink) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
