package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBlocks is the block table shared by the tests of this package.
type testBlocks struct {
	*Registry
	air, stone, dirt, grass, grassBlock, leaves, water, log BlockID
}

func newTestBlocks() testBlocks {
	r := NewRegistry()
	return testBlocks{
		Registry:   r,
		air:        0,
		stone:      r.Register("minecraft:stone", nil),
		dirt:       r.Register("minecraft:dirt", nil),
		grass:      r.Register("minecraft:grass", nil),
		grassBlock: r.Register("minecraft:grass_block", map[string]string{"snowy": "false"}),
		leaves:     r.Register("minecraft:oak_leaves", map[string]string{"distance": "1", "persistent": "false"}),
		water:      r.Register("minecraft:water", map[string]string{"level": "0"}),
		log:        r.Register("minecraft:oak_log", map[string]string{"axis": "y"}),
	}
}

func TestCompactPalette(t *testing.T) {
	ids := []BlockID{7, 7, 3, 7, 9, 3}
	palette, indices := CompactPalette(ids)
	assert.Equal(t, []BlockID{7, 3, 9}, palette)
	assert.Equal(t, 2, indices.BitsPerValue())
	assert.Equal(t, []uint64{0, 0, 1, 0, 2, 1}, collect(indices))

	palette, indices = CompactPalette(make([]BlockID, SectionVolume))
	assert.Equal(t, []BlockID{0}, palette)
	assert.Equal(t, 1, indices.BitsPerValue())
}

func TestBitsFor(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 1, 3: 2, 4: 2, 5: 3, 16: 4, 17: 5, 256: 8, 257: 9, 4096: 12} {
		assert.Equal(t, want, bitsFor(n), "palette of %d", n)
	}
}

func TestSectionSetBlockGrowsPalette(t *testing.T) {
	s := NewSection(0)
	require.Equal(t, 4, s.blocks.BitsPerValue())
	for i := range 20 {
		s.SetBlock(i%16, i/16, 0, BlockID(i+1))
	}
	assert.Len(t, s.Palette(), 21)
	assert.Equal(t, 5, s.blocks.BitsPerValue())
	for i := range 20 {
		assert.Equal(t, BlockID(i+1), s.Block(i%16, i/16, 0))
	}
	assert.Equal(t, BlockID(0), s.Block(15, 15, 15))
	assert.False(t, s.Uniform(0))
	assert.True(t, NewSection(4).Uniform(4))
}

func TestSectionEncodeDecode(t *testing.T) {
	b := newTestBlocks()
	s := NewSection(b.air)
	s.SetBlock(0, 0, 0, b.stone)
	s.SetBlock(15, 15, 15, b.log)
	s.SetBlock(3, 4, 5, b.water)
	s.SetBlock(3, 4, 5, b.dirt)
	s.SetBlockLight(1, 2, 3, 14)
	s.SetSkyLight(15, 15, 15, 15)
	s.SetSkyLight(0, 0, 0, 7)

	ls, err := encodeSection(3, s, b)
	require.NoError(t, err)
	assert.Equal(t, int8(3), ls.Y)
	// Water is no longer referenced and is dropped from the palette.
	assert.Equal(t, []paletteEntry{
		{Name: "minecraft:stone"},
		{Name: "minecraft:air"},
		{Name: "minecraft:dirt"},
		{Name: "minecraft:oak_log", Properties: map[string]string{"axis": "y"}},
	}, ls.Palette)
	assert.Len(t, ls.BlockStates, 128)
	assert.Len(t, ls.BlockLight, 2048)
	assert.Len(t, ls.SkyLight, 2048)

	got, err := decodeSection(ls, b)
	require.NoError(t, err)
	assert.Equal(t, s.Blocks(), got.Blocks())
	assert.Equal(t, uint8(14), got.BlockLight(1, 2, 3))
	assert.Equal(t, uint8(15), got.SkyLight(15, 15, 15))
	assert.Equal(t, uint8(7), got.SkyLight(0, 0, 0))
	assert.Equal(t, uint8(0), got.SkyLight(1, 0, 0))
}

func TestLightByteLayout(t *testing.T) {
	a := NewPackedArray(SectionVolume, lightBits)
	a.Set(0, 0x1)
	a.Set(1, 0x2)
	a.Set(16, 0xf)

	data := lightToBytes(a)
	require.Len(t, data, lightBytes)
	// Nibbles are packed from the low end of each little endian word.
	assert.Equal(t, byte(0x21), data[0])
	assert.Equal(t, byte(0x0f), data[8])

	back, err := lightFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, a.Uint64s(), back.Uint64s())
}

func TestDecodeSectionErrors(t *testing.T) {
	b := newTestBlocks()
	valid := func() levelSection {
		ls, err := encodeSection(0, NewSection(b.stone), b)
		require.NoError(t, err)
		return ls
	}

	ls := valid()
	ls.Y = 16
	_, err := decodeSection(ls, b)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)

	ls = valid()
	ls.Y = -1
	_, err = decodeSection(ls, b)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)

	ls = valid()
	ls.BlockLight = ls.BlockLight[:2047]
	_, err = decodeSection(ls, b)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)

	ls = valid()
	ls.SkyLight = nil
	_, err = decodeSection(ls, b)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)

	ls = valid()
	ls.Palette = []paletteEntry{{Name: "minecraft:not_a_block"}}
	_, err = decodeSection(ls, b)
	assert.ErrorIs(t, err, ErrInvalidBlock)

	ls = valid()
	ls.Palette = nil
	_, err = decodeSection(ls, b)
	var malformed *MalformedSchemaError
	assert.ErrorAs(t, err, &malformed)

	ls = valid()
	ls.BlockStates = ls.BlockStates[:63]
	_, err = decodeSection(ls, b)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)
}

func TestDecodeSectionRejectsDanglingIndex(t *testing.T) {
	b := newTestBlocks()
	s := NewSection(b.air)
	s.SetBlock(0, 0, 0, b.stone)
	s.SetBlock(1, 0, 0, b.dirt)
	ls, err := encodeSection(0, s, b)
	require.NoError(t, err)
	require.Len(t, ls.Palette, 3)

	// Index 2 still fits in two bits but no longer names a palette entry.
	ls.Palette = ls.Palette[:2]
	_, err = decodeSection(ls, b)
	var malformed *MalformedSchemaError
	assert.ErrorAs(t, err, &malformed)
	assert.True(t, IsCorrupt(err))
}

func TestDecodeBlockStatesPrefersPaletteWidth(t *testing.T) {
	// Widths 11 and 12 both need 820 words for a section.
	require.Equal(t, wordsNeeded(SectionVolume, 11), wordsNeeded(SectionVolume, 12))

	a := NewPackedArray(SectionVolume, 11)
	a.Set(100, 2000)
	got, err := decodeBlockStates(a.Int64s(), 2001)
	require.NoError(t, err)
	assert.Equal(t, 11, got.BitsPerValue())
	v, _ := got.Get(100)
	assert.Equal(t, uint64(2000), v)
}

func TestDecodeBlockStatesSpanningLayout(t *testing.T) {
	// Values packed across word boundaries fill exactly width*64 words. Only
	// widths 4 and 8 share that count with the non-spanning layout.
	for _, width := range []int{4, 8} {
		words := make([]int64, SectionVolume*width/64)
		got, err := decodeBlockStates(words, 1<<(width-1)+1)
		require.NoError(t, err, "width %d", width)
		assert.Equal(t, width, got.BitsPerValue())
	}
	for _, width := range []int{5, 6, 7, 9, 10, 11, 12} {
		words := make([]int64, SectionVolume*width/64)
		_, err := decodeBlockStates(words, 1<<(width-1)+1)
		assert.ErrorIs(t, err, ErrIndexOutOfBounds, "width %d", width)
	}
}

func TestEncodeSectionUnknownBlock(t *testing.T) {
	b := newTestBlocks()
	s := NewSection(b.air)
	s.SetBlock(0, 0, 0, 999)
	_, err := encodeSection(0, s, b)
	assert.ErrorIs(t, err, ErrInvalidBlock)
}

func collect(a *PackedArray) []uint64 {
	var out []uint64
	for v := range a.All() {
		out = append(out, v)
	}
	return out
}
