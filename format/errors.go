package format

import (
	"errors"
	"fmt"
)

var (
	// ErrHeaderTooSmall is returned when a region file is shorter than the 8 KiB header.
	ErrHeaderTooSmall = errors.New("region header is too small")
	// ErrChunkNotExist is returned when the header has no location for a chunk.
	ErrChunkNotExist = errors.New("chunk does not exist")
	// ErrInvalidBlock is returned when a palette entry does not resolve to a block state.
	ErrInvalidBlock = errors.New("chunk contains invalid block")
	// ErrIndexOutOfBounds is returned for out of range section indices and
	// arrays of the wrong length.
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	// ErrReadOnly is returned when writing to a region opened read-only.
	ErrReadOnly = errors.New("region is read-only")
)

// ChunkTooLargeError is returned when a stored chunk declares a length of zero
// or more than MaxChunkSize bytes.
type ChunkTooLargeError struct {
	Size int
}

func (e *ChunkTooLargeError) Error() string {
	return fmt.Sprintf("chunk is too large: %d bytes", e.Size)
}

// InvalidCompressionError is returned for an unknown compression id.
type InvalidCompressionError struct {
	ID byte
}

func (e *InvalidCompressionError) Error() string {
	return fmt.Sprintf("chunk uses invalid compression type %d", e.ID)
}

// UnsupportedDataVersionError is returned when a chunk was written by another
// data version than DataVersion.
type UnsupportedDataVersionError struct {
	Version int32
}

func (e *UnsupportedDataVersionError) Error() string {
	return fmt.Sprintf("unsupported data version %d (supported: %d)", e.Version, DataVersion)
}

// InvalidBiomeIDError is returned when a stored biome id is unknown.
type InvalidBiomeIDError struct {
	ID int32
}

func (e *InvalidBiomeIDError) Error() string {
	return fmt.Sprintf("invalid biome id %d", e.ID)
}

// MalformedSchemaError is returned when the chunk record cannot be parsed.
type MalformedSchemaError struct {
	Reason string
	Err    error
}

func (e *MalformedSchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed chunk schema: %s: %v", e.Reason, e.Err)
	}
	return "malformed chunk schema: " + e.Reason
}

func (e *MalformedSchemaError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err describes stored chunk data that cannot be
// used: a malformed, foreign or hostile record rather than an I/O failure or
// a missing chunk.
func IsCorrupt(err error) bool {
	var (
		tooLarge    *ChunkTooLargeError
		compression *InvalidCompressionError
		version     *UnsupportedDataVersionError
		biome       *InvalidBiomeIDError
		schema      *MalformedSchemaError
	)
	switch {
	case errors.Is(err, ErrInvalidBlock), errors.Is(err, ErrIndexOutOfBounds):
		return true
	case errors.As(err, &tooLarge), errors.As(err, &compression), errors.As(err, &version),
		errors.As(err, &biome), errors.As(err, &schema):
		return true
	}
	return false
}
