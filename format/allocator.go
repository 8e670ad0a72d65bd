package format

import (
	"github.com/bits-and-blooms/bitset"
)

// SectorAllocator hands out runs of free sectors in a region file. It keeps
// one bit per sector, set while the sector is in use, and is rebuilt from the
// header whenever a region is opened.
//
// Blocks are not reference counted: the sectors of a chunk must be freed
// before new ones are allocated for it, or they stay in use until the region
// is reopened. Freed space is never compacted.
type SectorAllocator struct {
	used *bitset.BitSet
}

// NewSectorAllocator creates an allocator for a file of fileSectors sectors,
// marking the header sectors and every chunk location of h as used.
func NewSectorAllocator(h *Header, fileSectors uint32) *SectorAllocator {
	a := &SectorAllocator{used: bitset.New(uint(fileSectors))}
	for _, loc := range h.Locations {
		if loc.Exists() {
			a.mark(loc.Block(), true)
		}
	}
	a.used.Set(0).Set(1)
	return a
}

// Allocate returns a block of exactly n sectors, using the first free run
// long enough to hold it. If there is none, the block is placed after the
// last tracked sector. n must be at least 1.
func (a *SectorAllocator) Allocate(n uint32) SectorBlock {
	if n == 0 {
		panic("sector allocator: allocate 0 sectors")
	}
	length := a.used.Len()
	start, ok := a.used.NextClear(0)
	for ok && start < length {
		end, found := a.used.NextSet(start)
		if !found || end > length {
			end = length
		}
		if end-start >= uint(n) {
			b := SectorBlock{Offset: uint32(start), Count: n}
			a.mark(b, true)
			return b
		}
		start, ok = a.used.NextClear(end)
	}

	b := SectorBlock{Offset: uint32(length), Count: n}
	a.mark(b, true)
	return b
}

// Free marks the sectors of b as unused.
func (a *SectorAllocator) Free(b SectorBlock) {
	a.mark(b, false)
}

// Len returns the number of sectors tracked, the size of the file the
// allocator expects in sectors.
func (a *SectorAllocator) Len() uint32 {
	return uint32(a.used.Len())
}

// Used returns the number of sectors in use, including the header.
func (a *SectorAllocator) Used() uint32 {
	return uint32(a.used.Count())
}

func (a *SectorAllocator) mark(b SectorBlock, used bool) {
	for i := b.Offset; i < b.End(); i++ {
		if used {
			a.used.Set(uint(i))
		} else {
			a.used.Clear(uint(i))
		}
	}
}
