package format

import (
	"fmt"
	"io"
)

const (
	// SectorBytes is the size of a sector, the allocation unit of a region file.
	SectorBytes = 4096
	// HeaderBytes is the size of the region header: chunk locations followed
	// by chunk timestamps, one sector each.
	HeaderBytes = 2 * SectorBytes
	// RegionSize is the width and length of a region in chunks.
	RegionSize = 32
	// ChunksPerRegion is the number of chunk slots in a region.
	ChunksPerRegion = RegionSize * RegionSize

	// maxSectorCount is the largest sector count a location can hold.
	maxSectorCount = 0xff
	// maxSectorOffset is the largest sector offset a location can hold.
	maxSectorOffset = 0xffffff
)

// SectorBlock is a run of sectors in a region file.
type SectorBlock struct {
	// Offset is the index of the first sector, counted from the start of the file.
	Offset uint32
	// Count is the number of sectors in the block.
	Count uint32
}

// End returns the index of the sector following the block.
func (b SectorBlock) End() uint32 { return b.Offset + b.Count }

// ChunkLocation is the location of a stored chunk. The zero location means
// the chunk is not stored: sector 0 holds the header, so no chunk starts there.
type ChunkLocation SectorBlock

// Exists reports whether the location points at a stored chunk.
func (l ChunkLocation) Exists() bool {
	return l.Offset != 0 && l.Count != 0
}

// Block returns the sectors of the location.
func (l ChunkLocation) Block() SectorBlock { return SectorBlock(l) }

// encode packs the location into its stored form, offset<<8 | count.
func (l ChunkLocation) encode() uint32 {
	return l.Offset<<8 | l.Count&maxSectorCount
}

func decodeLocation(v uint32) ChunkLocation {
	return ChunkLocation{Offset: v >> 8, Count: v & maxSectorCount}
}

// Header is the index of a region file. The zero Header has no chunks.
type Header struct {
	Locations  [ChunksPerRegion]ChunkLocation
	Timestamps [ChunksPerRegion]uint32
}

// headerIndex returns the slot of a chunk. Only the low five bits of each
// coordinate are used; callers must pass chunks that belong to the region.
func headerIndex(x, z int32) int {
	return int((x & 31) + (z&31)*RegionSize)
}

// Location returns the location of the chunk.
func (h *Header) Location(pos ChunkPos) ChunkLocation {
	return h.Locations[headerIndex(pos.X, pos.Z)]
}

// SetLocation sets the location of the chunk.
func (h *Header) SetLocation(pos ChunkPos, loc ChunkLocation) {
	h.Locations[headerIndex(pos.X, pos.Z)] = loc
}

// Timestamp returns the last modification time of the chunk in seconds since
// the Unix epoch.
func (h *Header) Timestamp(pos ChunkPos) uint32 {
	return h.Timestamps[headerIndex(pos.X, pos.Z)]
}

// SetTimestamp sets the last modification time of the chunk.
func (h *Header) SetTimestamp(pos ChunkPos, ts uint32) {
	h.Timestamps[headerIndex(pos.X, pos.Z)] = ts
}

// ReadHeader reads a header from r. size is the size of the whole region
// file; files smaller than HeaderBytes are rejected with ErrHeaderTooSmall.
func ReadHeader(r io.Reader, size int64) (*Header, error) {
	if size < HeaderBytes {
		return nil, fmt.Errorf("region file of %d bytes: %w", size, ErrHeaderTooSmall)
	}
	rd := newReader(r)
	h := &Header{}
	for i := range h.Locations {
		v, err := rd.ReadUInt32()
		if err != nil {
			return nil, fmt.Errorf("read location %d: %w", i, err)
		}
		h.Locations[i] = decodeLocation(v)
	}
	for i := range h.Timestamps {
		v, err := rd.ReadUInt32()
		if err != nil {
			return nil, fmt.Errorf("read timestamp %d: %w", i, err)
		}
		h.Timestamps[i] = v
	}
	return h, nil
}

// MarshalBinary returns the 8 KiB stored form of the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := newBuffer(HeaderBytes)
	for _, loc := range h.Locations {
		buf.WriteUInt32(loc.encode())
	}
	for _, ts := range h.Timestamps {
		buf.WriteUInt32(ts)
	}
	return buf.Bytes(), nil
}

// WriteTo writes the header to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	data, _ := h.MarshalBinary()
	n, err := w.Write(data)
	return int64(n), err
}
