package format

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tnze/go-mc/nbt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegion(t *testing.T, b testBlocks) (*Region, string) {
	t.Helper()
	path := RegionPath(t.TempDir(), RegionPos{})
	r, err := CreateRegion(path, b)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, path
}

// sampleChunk builds a chunk with a few sections, light and biomes.
func sampleChunk(b testBlocks, pos ChunkPos) *Chunk {
	c := NewChunk(pos, b.air)
	for x := range 16 {
		for z := range 16 {
			c.SetBlock(x, 0, z, b.stone)
			c.SetBlock(x, 1, z, b.dirt)
			c.SetBlock(x, 2, z, b.grassBlock)
			c.SetBiome(x, z, Biome((x+z)%8))
		}
	}
	c.SetBlock(4, 3, 4, b.grass)
	c.SetBlock(8, 60, 8, b.log)
	c.SetBlock(8, 61, 8, b.leaves)
	c.Sections[0].SetSkyLight(4, 3, 4, 15)
	c.Sections[3].SetBlockLight(8, 12, 8, 9)
	c.SetBiome(0, 0, BiomeJungle)
	return c
}

// noisyChunk builds a chunk that compresses badly and spans several sectors.
func noisyChunk(b testBlocks, pos ChunkPos, seed uint64) *Chunk {
	ids := []BlockID{b.air, b.stone, b.dirt, b.grass, b.grassBlock, b.leaves, b.water, b.log}
	rng := rand.New(rand.NewPCG(seed, seed))
	c := NewChunk(pos, b.air)
	for y := range 64 {
		for z := range 16 {
			for x := range 16 {
				c.SetBlock(x, y, z, ids[rng.IntN(len(ids))])
			}
		}
	}
	return c
}

func assertSameChunk(t *testing.T, want, got *Chunk) {
	t.Helper()
	assert.Equal(t, want.Pos, got.Pos)
	assert.Equal(t, want.Biomes, got.Biomes)
	for y := range SectionCount {
		w, g := want.Sections[y], got.Sections[y]
		if w == nil {
			assert.Nil(t, g, "section %d", y)
			continue
		}
		require.NotNil(t, g, "section %d", y)
		assert.Equal(t, w.Blocks(), g.Blocks(), "section %d blocks", y)
		assert.Equal(t, w.blockLight.Uint64s(), g.blockLight.Uint64s(), "section %d block light", y)
		assert.Equal(t, w.skyLight.Uint64s(), g.skyLight.Uint64s(), "section %d sky light", y)
	}
}

func TestRegionRoundTrip(t *testing.T) {
	b := newTestBlocks()
	r, path := newTestRegion(t, b)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }

	pos := ChunkPos{X: 3, Z: 17}
	c := sampleChunk(b, pos)
	require.NoError(t, r.SaveChunk(c, EmptyEntities))
	assert.True(t, r.Exists(pos))
	assert.Equal(t, time.Unix(1700000000, 0), r.Timestamp(pos))

	got, entities, err := r.LoadChunk(pos)
	require.NoError(t, err)
	assertSameChunk(t, c, got)
	assert.Equal(t, EmptyEntities, entities)

	require.NoError(t, r.Close())
	r, err = OpenRegion(path, b)
	require.NoError(t, err)
	defer r.Close()

	got, _, err = r.LoadChunk(pos)
	require.NoError(t, err)
	assertSameChunk(t, c, got)
	assert.Equal(t, []ChunkPos{pos}, r.Chunks())
	assert.Equal(t, time.Unix(1700000000, 0), r.Timestamp(pos))
}

func TestRegionRecomputesHeightmaps(t *testing.T) {
	b := newTestBlocks()
	r, _ := newTestRegion(t, b)

	c := sampleChunk(b, ChunkPos{})
	require.NoError(t, r.SaveChunk(c, EmptyEntities))
	got, _, err := r.LoadChunk(ChunkPos{})
	require.NoError(t, err)

	assert.Equal(t, 62, got.Heightmaps.Height(MotionBlocking, 8, 8))
	assert.Equal(t, 61, got.Heightmaps.Height(MotionBlockingNoLeaves, 8, 8))
	assert.Equal(t, 3, got.Heightmaps.Height(MotionBlocking, 4, 4))
	assert.Equal(t, 4, got.Heightmaps.Height(WorldSurface, 4, 4))
}

func TestRegionStoresHeightmaps(t *testing.T) {
	b := newTestBlocks()
	r, path := newTestRegion(t, b)

	// Saved without recalculating the heightmaps first.
	c := sampleChunk(b, ChunkPos{})
	require.NoError(t, r.SaveChunk(c, EmptyEntities))

	sectors := readSectors(t, path, r.header.Location(ChunkPos{}).Block())
	length := binary.BigEndian.Uint32(sectors)
	root, err := decodeRecord(sectors[4 : 4+length])
	require.NoError(t, err)
	require.Len(t, root.Level.Heightmaps, 256)

	col := 8<<4 | 8
	assert.Equal(t, int64(62), root.Level.Heightmaps[col]&0x1ff)
	assert.Equal(t, int64(61), root.Level.Heightmaps[col]>>heightmapBits&0x1ff)
	assert.Equal(t, 62, c.Heightmaps.Height(MotionBlocking, 8, 8))
}

func TestRegionEntities(t *testing.T) {
	type entity struct {
		ID  string    `nbt:"id"`
		Pos []float64 `nbt:"Pos"`
	}
	b := newTestBlocks()
	r, _ := newTestRegion(t, b)

	want := []entity{{ID: "minecraft:pig", Pos: []float64{1.5, 64, 2.5}}, {ID: "minecraft:cow", Pos: []float64{3, 65, 4}}}
	raw, err := MarshalEntities(want)
	require.NoError(t, err)
	require.Equal(t, byte(nbt.TagList), raw.Type)

	require.NoError(t, r.SaveChunk(sampleChunk(b, ChunkPos{X: 1}), raw))
	_, loaded, err := r.LoadChunk(ChunkPos{X: 1})
	require.NoError(t, err)

	var got []entity
	require.NoError(t, loaded.Unmarshal(&got))
	assert.Equal(t, want, got)

	assert.Error(t, r.SaveChunk(sampleChunk(b, ChunkPos{X: 2}), nbt.RawMessage{Type: nbt.TagInt, Data: []byte{0, 0, 0, 1}}))
	assert.False(t, r.Exists(ChunkPos{X: 2}))
}

func TestRegionIsolation(t *testing.T) {
	b := newTestBlocks()
	r, path := newTestRegion(t, b)

	a := sampleChunk(b, ChunkPos{X: 0})
	other := sampleChunk(b, ChunkPos{X: 1})
	other.SetBlock(0, 200, 0, b.water)
	require.NoError(t, r.SaveChunk(a, EmptyEntities))
	require.NoError(t, r.SaveChunk(other, EmptyEntities))

	loc := r.header.Location(other.Pos)
	before := readSectors(t, path, loc.Block())

	// Growing a past its sectors must move it, not overwrite its neighbour.
	grown := noisyChunk(b, a.Pos, 1)
	require.NoError(t, r.SaveChunk(grown, EmptyEntities))
	require.Greater(t, r.header.Location(a.Pos).Count, uint32(1))

	assert.Equal(t, loc, r.header.Location(other.Pos))
	assert.Equal(t, before, readSectors(t, path, loc.Block()))

	got, _, err := r.LoadChunk(other.Pos)
	require.NoError(t, err)
	assertSameChunk(t, other, got)
	got, _, err = r.LoadChunk(a.Pos)
	require.NoError(t, err)
	assertSameChunk(t, grown, got)
}

func TestRegionReusesFreedSectors(t *testing.T) {
	b := newTestBlocks()
	r, _ := newTestRegion(t, b)

	big := noisyChunk(b, ChunkPos{X: 0}, 2)
	require.NoError(t, r.SaveChunk(big, EmptyEntities))
	first := r.header.Location(big.Pos)
	require.Equal(t, uint32(2), first.Offset)

	require.NoError(t, r.SaveChunk(sampleChunk(b, ChunkPos{X: 1}), EmptyEntities))

	// The small replacement fits in the old run and takes its first sector.
	require.NoError(t, r.SaveChunk(sampleChunk(b, big.Pos), EmptyEntities))
	assert.Equal(t, ChunkLocation{Offset: 2, Count: 1}, r.header.Location(big.Pos))
}

func TestRegionFileIsSectorAligned(t *testing.T) {
	b := newTestBlocks()
	r, path := newTestRegion(t, b)
	require.NoError(t, r.SaveChunk(sampleChunk(b, ChunkPos{}), EmptyEntities))
	require.NoError(t, r.SaveChunk(noisyChunk(b, ChunkPos{X: 5, Z: 5}, 3), EmptyEntities))

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, stat.Size()%SectorBytes)
	assert.Equal(t, int64(r.alloc.Len())*SectorBytes, stat.Size())
}

func TestPadding(t *testing.T) {
	assert.Equal(t, 0, padding(SectorBytes))
	assert.Equal(t, 0, padding(3*SectorBytes))
	assert.Equal(t, SectorBytes-1, padding(1))
	assert.Equal(t, SectorBytes-1, padding(SectorBytes+1))
	assert.Equal(t, 96, padding(4000))
}

func TestRegionAbsentChunk(t *testing.T) {
	b := newTestBlocks()
	r, _ := newTestRegion(t, b)
	_, _, err := r.LoadChunk(ChunkPos{X: 4, Z: 4})
	assert.ErrorIs(t, err, ErrChunkNotExist)
	assert.False(t, IsCorrupt(err))
	assert.False(t, r.Exists(ChunkPos{X: 4, Z: 4}))
}

func TestRegionDelete(t *testing.T) {
	b := newTestBlocks()
	r, path := newTestRegion(t, b)
	pos := ChunkPos{X: 9, Z: 9}
	require.NoError(t, r.SaveChunk(sampleChunk(b, pos), EmptyEntities))
	require.NoError(t, r.Delete(pos))
	require.NoError(t, r.Delete(pos))

	_, _, err := r.LoadChunk(pos)
	assert.ErrorIs(t, err, ErrChunkNotExist)
	assert.True(t, r.Timestamp(pos).IsZero())

	require.NoError(t, r.Close())
	r, err = OpenRegion(path, b)
	require.NoError(t, err)
	defer r.Close()
	assert.Empty(t, r.Chunks())
	assert.Equal(t, uint32(2), r.alloc.Used())
}

func TestOpenRegionHeaderTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0644))
	_, err := OpenRegion(path, NewRegistry())
	assert.ErrorIs(t, err, ErrHeaderTooSmall)
}

func TestOpenRegionReadOnly(t *testing.T) {
	b := newTestBlocks()
	r, path := newTestRegion(t, b)
	c := sampleChunk(b, ChunkPos{X: 2})
	require.NoError(t, r.SaveChunk(c, EmptyEntities))
	require.NoError(t, r.Close())
	require.NoError(t, os.Chmod(path, 0444))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Root ignores file permissions.
	if os.Geteuid() != 0 {
		_, err = OpenRegion(path, b)
		assert.ErrorIs(t, err, os.ErrPermission)
	}

	ro, err := OpenRegionReadOnly(path, b)
	require.NoError(t, err)
	defer ro.Close()
	got, _, err := ro.LoadChunk(ChunkPos{X: 2})
	require.NoError(t, err)
	assertSameChunk(t, c, got)

	assert.ErrorIs(t, ro.SaveChunk(c, EmptyEntities), ErrReadOnly)
	assert.ErrorIs(t, ro.Delete(ChunkPos{X: 2}), ErrReadOnly)
	assert.True(t, ro.Exists(ChunkPos{X: 2}))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOpenOrCreateRegion(t *testing.T) {
	b := newTestBlocks()
	path := RegionPath(t.TempDir(), RegionPos{X: -1, Z: 2})
	assert.Equal(t, "r.-1.2.mca", filepath.Base(path))

	r, err := OpenOrCreateRegion(path, b)
	require.NoError(t, err)
	require.NoError(t, r.SaveChunk(sampleChunk(b, ChunkPos{X: -32, Z: 64}), EmptyEntities))
	require.NoError(t, r.Close())

	r, err = OpenOrCreateRegion(path, b)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Exists(ChunkPos{X: -32, Z: 64}))
}

func TestLoadChunkSizeGuards(t *testing.T) {
	for _, length := range []uint32{0, MaxChunkSize + 1, 0xffffffff} {
		b := newTestBlocks()
		r, _ := newTestRegion(t, b)
		pos := ChunkPos{X: 2, Z: 3}
		require.NoError(t, r.SaveChunk(sampleChunk(b, pos), EmptyEntities))

		prefix := binary.BigEndian.AppendUint32(nil, length)
		_, err := r.f.WriteAt(prefix, int64(r.header.Location(pos).Offset)*SectorBytes)
		require.NoError(t, err)

		_, _, err = r.LoadChunk(pos)
		var tooLarge *ChunkTooLargeError
		require.ErrorAs(t, err, &tooLarge, "length %d", length)
		assert.Equal(t, int(length), tooLarge.Size)
		assert.True(t, IsCorrupt(err))
	}
}

func TestLoadChunkInvalidCompression(t *testing.T) {
	b := newTestBlocks()
	r, _ := newTestRegion(t, b)
	pos := ChunkPos{X: 2, Z: 3}
	require.NoError(t, r.SaveChunk(sampleChunk(b, pos), EmptyEntities))

	_, err := r.f.WriteAt([]byte{3}, int64(r.header.Location(pos).Offset)*SectorBytes+4)
	require.NoError(t, err)

	_, _, err = r.LoadChunk(pos)
	var compression *InvalidCompressionError
	require.ErrorAs(t, err, &compression)
	assert.Equal(t, byte(3), compression.ID)
	assert.True(t, IsCorrupt(err))
}

func TestLoadChunkGzip(t *testing.T) {
	b := newTestBlocks()
	r, _ := newTestRegion(t, b)
	c := sampleChunk(b, ChunkPos{X: 7})
	root, err := chunkToRoot(c, EmptyEntities, b)
	require.NoError(t, err)

	writeRecord(t, r, c.Pos, compressRoot(t, CompressionGzip, root))
	got, _, err := r.LoadChunk(c.Pos)
	require.NoError(t, err)
	assertSameChunk(t, c, got)
}

func TestLoadChunkRejectsBadRecords(t *testing.T) {
	b := newTestBlocks()
	tests := map[string]struct {
		mutate func(*chunkRoot)
		check  func(*testing.T, error)
	}{
		"data version": {
			mutate: func(root *chunkRoot) { root.DataVersion = 1976 },
			check: func(t *testing.T, err error) {
				var version *UnsupportedDataVersionError
				require.ErrorAs(t, err, &version)
				assert.Equal(t, int32(1976), version.Version)
			},
		},
		"section y": {
			mutate: func(root *chunkRoot) { root.Level.Sections[0].Y = 16 },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrIndexOutOfBounds) },
		},
		"unknown block": {
			mutate: func(root *chunkRoot) {
				root.Level.Sections[0].Palette[0] = paletteEntry{Name: "minecraft:stone", Properties: map[string]string{"variant": "granite"}}
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrInvalidBlock) },
		},
		"biome count": {
			mutate: func(root *chunkRoot) { root.Level.Biomes = root.Level.Biomes[:255] },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrIndexOutOfBounds) },
		},
		"biome id": {
			mutate: func(root *chunkRoot) { root.Level.Biomes[10] = 99 },
			check: func(t *testing.T, err error) {
				var biome *InvalidBiomeIDError
				require.ErrorAs(t, err, &biome)
				assert.Equal(t, int32(99), biome.ID)
			},
		},
		"light length": {
			mutate: func(root *chunkRoot) { root.Level.Sections[0].BlockLight = make([]byte, 2047) },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrIndexOutOfBounds) },
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r, _ := newTestRegion(t, b)
			c := sampleChunk(b, ChunkPos{})
			root, err := chunkToRoot(c, EmptyEntities, b)
			require.NoError(t, err)
			tt.mutate(&root)
			writeRecord(t, r, c.Pos, compressRoot(t, CompressionZlib, root))

			_, _, err = r.LoadChunk(c.Pos)
			require.Error(t, err)
			tt.check(t, err)
			assert.True(t, IsCorrupt(err))
		})
	}
}

func TestLoadChunkGarbagePayload(t *testing.T) {
	b := newTestBlocks()
	r, _ := newTestRegion(t, b)
	writeRecord(t, r, ChunkPos{}, append([]byte{byte(CompressionZlib)}, "definitely not zlib"...))

	_, _, err := r.LoadChunk(ChunkPos{})
	var malformed *MalformedSchemaError
	assert.ErrorAs(t, err, &malformed)
	assert.True(t, IsCorrupt(err))
}

// compressRoot builds a stored record for root with the given compression.
func compressRoot(t *testing.T, c Compression, root chunkRoot) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteByte(byte(c))
	w, err := c.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, nbt.NewEncoder(w).Encode(root, ""))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// writeRecord stores a record for pos as is, bypassing SaveChunk.
func writeRecord(t *testing.T, r *Region, pos ChunkPos, record []byte) {
	t.Helper()
	total := len(record) + 4
	block := r.alloc.Allocate(uint32((total + SectorBytes - 1) / SectorBytes))

	data := binary.BigEndian.AppendUint32(nil, uint32(len(record)))
	data = append(data, record...)
	data = append(data, make([]byte, padding(total))...)
	_, err := r.f.WriteAt(data, int64(block.Offset)*SectorBytes)
	require.NoError(t, err)

	r.header.SetLocation(pos, ChunkLocation(block))
	require.NoError(t, r.writeHeader())
}

func readSectors(t *testing.T, path string, b SectorBlock) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data[b.Offset*SectorBytes : b.End()*SectorBytes]
}
