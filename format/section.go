package format

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"slices"
)

const (
	// SectionVolume is the number of blocks in a section.
	SectionVolume = 16 * 16 * 16
	// lightBytes is the size of a stored light array: 4 bits per block.
	lightBytes = SectionVolume / 2
	// lightBits is the width of a single light value.
	lightBits = 4
)

// Section is a 16x16x16 volume of blocks with block and sky light. Blocks are
// stored as indices into a palette of global block ids. The palette only
// grows while the section is edited; CompactPalette shrinks it on save.
type Section struct {
	blocks     *PackedArray
	palette    []BlockID
	blockLight *PackedArray
	skyLight   *PackedArray
}

// NewSection creates a section filled with the block fill and no light.
func NewSection(fill BlockID) *Section {
	return &Section{
		blocks:     NewPackedArray(SectionVolume, 4),
		palette:    []BlockID{fill},
		blockLight: NewPackedArray(SectionVolume, lightBits),
		skyLight:   NewPackedArray(SectionVolume, lightBits),
	}
}

// blockIndex returns the index of a block in a section, in YZX order.
func blockIndex(x, y, z int) int {
	return y<<8 | z<<4 | x
}

// Block returns the block at the section relative position.
func (s *Section) Block(x, y, z int) BlockID {
	idx, _ := s.blocks.Get(blockIndex(x, y, z))
	return s.palette[idx]
}

// SetBlock sets the block at the section relative position. The index array
// is widened when the palette outgrows it.
func (s *Section) SetBlock(x, y, z int, id BlockID) {
	idx := slices.Index(s.palette, id)
	if idx == -1 {
		idx = len(s.palette)
		s.palette = append(s.palette, id)
		if uint64(idx) > s.blocks.MaxValue() {
			s.blocks = s.blocks.Resized(bitsFor(len(s.palette)))
		}
	}
	s.blocks.Set(blockIndex(x, y, z), uint64(idx))
}

// BlockLight returns the block light level at the section relative position.
func (s *Section) BlockLight(x, y, z int) uint8 {
	v, _ := s.blockLight.Get(blockIndex(x, y, z))
	return uint8(v)
}

// SetBlockLight sets the block light level, 0-15.
func (s *Section) SetBlockLight(x, y, z int, level uint8) {
	s.blockLight.Set(blockIndex(x, y, z), uint64(level))
}

// SkyLight returns the sky light level at the section relative position.
func (s *Section) SkyLight(x, y, z int) uint8 {
	v, _ := s.skyLight.Get(blockIndex(x, y, z))
	return uint8(v)
}

// SetSkyLight sets the sky light level, 0-15.
func (s *Section) SetSkyLight(x, y, z int, level uint8) {
	s.skyLight.Set(blockIndex(x, y, z), uint64(level))
}

// Blocks returns the global id of every block in YZX order.
func (s *Section) Blocks() []BlockID {
	out := make([]BlockID, 0, SectionVolume)
	for idx := range s.blocks.All() {
		out = append(out, s.palette[idx])
	}
	return out
}

// Palette returns a copy of the section palette. It may contain ids no block
// refers to anymore.
func (s *Section) Palette() []BlockID {
	return slices.Clone(s.palette)
}

// Uniform reports whether every block of the section is id.
func (s *Section) Uniform(id BlockID) bool {
	for idx := range s.blocks.All() {
		if s.palette[idx] != id {
			return false
		}
	}
	return true
}

// CompactPalette builds the minimal palette for a list of global ids, in
// order of first appearance, and packs the index of every id using the
// smallest width that fits the palette.
func CompactPalette(ids []BlockID) ([]BlockID, *PackedArray) {
	var palette []BlockID
	lookup := make(map[BlockID]uint64)
	indices := make([]uint64, len(ids))
	for i, id := range ids {
		idx, ok := lookup[id]
		if !ok {
			idx = uint64(len(palette))
			lookup[id] = idx
			palette = append(palette, id)
		}
		indices[i] = idx
	}
	return palette, CollectPackedArray(slices.Values(indices), bitsFor(len(palette)))
}

// bitsFor returns the smallest number of bits, at least 1, that can index a
// palette of n entries.
func bitsFor(n int) int {
	if n <= 2 {
		return 1
	}
	return bits.Len(uint(n - 1))
}

// encodeSection converts a section at index y to its stored form.
func encodeSection(y int, s *Section, table BlockTable) (levelSection, error) {
	palette, indices := CompactPalette(s.Blocks())
	entries := make([]paletteEntry, len(palette))
	for i, id := range palette {
		name, props, ok := table.Describe(id)
		if !ok {
			return levelSection{}, fmt.Errorf("describe block %d: %w", id, ErrInvalidBlock)
		}
		entries[i] = paletteEntry{Name: name, Properties: props}
	}
	return levelSection{
		Y:           int8(y),
		BlockStates: indices.Int64s(),
		Palette:     entries,
		BlockLight:  lightToBytes(s.blockLight),
		SkyLight:    lightToBytes(s.skyLight),
	}, nil
}

// decodeSection converts a stored section back into a Section, resolving its
// palette through table.
func decodeSection(ls levelSection, table BlockTable) (*Section, error) {
	if ls.Y < 0 || ls.Y >= SectionCount {
		return nil, fmt.Errorf("section y %d: %w", ls.Y, ErrIndexOutOfBounds)
	}
	if len(ls.Palette) == 0 {
		return nil, &MalformedSchemaError{Reason: fmt.Sprintf("section %d has an empty palette", ls.Y)}
	}
	palette := make([]BlockID, len(ls.Palette))
	for i, entry := range ls.Palette {
		id, ok := table.Resolve(entry.Name, entry.Properties)
		if !ok {
			return nil, fmt.Errorf("section %d palette entry %s: %w", ls.Y, stateKey(entry.Name, entry.Properties), ErrInvalidBlock)
		}
		palette[i] = id
	}

	blocks, err := decodeBlockStates(ls.BlockStates, len(palette))
	if err != nil {
		return nil, fmt.Errorf("section %d block states: %w", ls.Y, err)
	}
	for idx := range blocks.All() {
		if idx >= uint64(len(palette)) {
			return nil, &MalformedSchemaError{Reason: fmt.Sprintf("section %d refers to palette index %d of %d", ls.Y, idx, len(palette))}
		}
	}

	blockLight, err := lightFromBytes(ls.BlockLight)
	if err != nil {
		return nil, fmt.Errorf("section %d block light: %w", ls.Y, err)
	}
	skyLight, err := lightFromBytes(ls.SkyLight)
	if err != nil {
		return nil, fmt.Errorf("section %d sky light: %w", ls.Y, err)
	}
	return &Section{
		blocks:     blocks,
		palette:    palette,
		blockLight: blockLight,
		skyLight:   skyLight,
	}, nil
}

// decodeBlockStates rebuilds the index array of a section. The width is
// derived from the word count; when the palette size names a width with the
// same word count, that width is used, since several widths can share a
// word count.
func decodeBlockStates(words []int64, paletteLen int) (*PackedArray, error) {
	u := make([]uint64, len(words))
	for i, w := range words {
		u[i] = uint64(w)
	}
	if b := bitsFor(paletteLen); len(u) == wordsNeeded(SectionVolume, b) {
		return fromWords(u, SectionVolume, b)
	}
	return FromUint64s(u, SectionVolume)
}

// lightToBytes stores a nibble array as bytes, each word little endian.
func lightToBytes(a *PackedArray) []byte {
	out := make([]byte, 0, lightBytes)
	for _, w := range a.Uint64s() {
		out = binary.LittleEndian.AppendUint64(out, w)
	}
	return out
}

// lightFromBytes is the inverse of lightToBytes.
func lightFromBytes(b []byte) (*PackedArray, error) {
	if len(b) != lightBytes {
		return nil, fmt.Errorf("light array of %d bytes: %w", len(b), ErrIndexOutOfBounds)
	}
	words := make([]uint64, lightBytes/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return fromWords(words, SectionVolume, lightBits)
}
