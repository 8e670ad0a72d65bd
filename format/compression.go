package format

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Compression is the compression id stored in front of every chunk record.
type Compression byte

const (
	// CompressionGzip marks a record compressed with gzip.
	CompressionGzip Compression = 1
	// CompressionZlib marks a record compressed with zlib. Chunks are always
	// written with zlib.
	CompressionZlib Compression = 2
)

// Valid reports whether the compression id is known.
func (c Compression) Valid() bool {
	return c == CompressionGzip || c == CompressionZlib
}

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	default:
		return "unknown"
	}
}

// NewReader returns a reader that decompresses r.
func (c Compression) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZlib:
		return zlib.NewReader(r)
	default:
		return nil, &InvalidCompressionError{ID: byte(c)}
	}
}

// NewWriter returns a writer that compresses into w. The writer must be
// closed to flush the compressed stream.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZlib:
		return zlib.NewWriter(w), nil
	default:
		return nil, &InvalidCompressionError{ID: byte(c)}
	}
}
