package format

import (
	"bytes"
	"encoding/binary"
	"io"
)

// buffer is a helper for writing big-endian binary data.
type buffer struct {
	bytes.Buffer
}

// newBuffer creates a new buffer with room for n bytes.
func newBuffer(n int) *buffer {
	b := &buffer{}
	b.Grow(n)
	return b
}

// WriteUInt32 writes a uint32 in big-endian format.
func (b *buffer) WriteUInt32(v uint32) {
	_, _ = b.Write(binary.BigEndian.AppendUint32(nil, v))
}

// WriteZeros writes n zero bytes.
func (b *buffer) WriteZeros(n int) {
	_, _ = b.Write(make([]byte, n))
}

// reader is a helper for reading big-endian binary data.
type reader struct {
	r io.Reader
}

// newReader creates a new reader wrapping the given io.Reader.
func newReader(r io.Reader) *reader {
	return &reader{r: r}
}

// ReadUInt32 reads a uint32 in big-endian format.
func (r *reader) ReadUInt32() (uint32, error) {
	var v uint32
	err := binary.Read(r.r, binary.BigEndian, &v)
	return v, err
}

// ReadN reads exactly n bytes.
func (r *reader) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(r.r, buf)
	return buf, err
}
