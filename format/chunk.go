package format

import "fmt"

const (
	// SectionCount is the number of 16 block tall sections in a chunk.
	SectionCount = 16
	// ChunkHeight is the height of a chunk in blocks.
	ChunkHeight = SectionCount * 16
	// BiomeCount is the number of biome entries of a chunk, one per column.
	BiomeCount = 256
)

// ChunkPos is the position of a chunk column in chunk coordinates.
type ChunkPos struct {
	X, Z int32
}

// Region returns the position of the region that holds the chunk.
func (p ChunkPos) Region() RegionPos {
	return RegionPos{X: p.X >> 5, Z: p.Z >> 5}
}

// Local returns the chunk coordinates relative to its region, both in the
// range 0-31.
func (p ChunkPos) Local() (x, z int32) {
	return p.X & 31, p.Z & 31
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Z)
}

// RegionPos is the position of a region, a 32x32 grid of chunks.
type RegionPos struct {
	X, Z int32
}

// Chunk returns the absolute position of the chunk at local coordinates x, z
// of the region.
func (p RegionPos) Chunk(x, z int32) ChunkPos {
	return ChunkPos{X: p.X<<5 | x&31, Z: p.Z<<5 | z&31}
}

func (p RegionPos) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Z)
}

// Chunk is a column of 16 sections with per column biomes and heightmaps.
type Chunk struct {
	Pos ChunkPos
	// Sections holds the sections from bottom to top. Nil sections are air
	// and are not stored.
	Sections [SectionCount]*Section
	// Biomes holds one biome per column, indexed by z*16+x.
	Biomes     [BiomeCount]Biome
	Heightmaps Heightmaps

	air BlockID
}

// NewChunk creates an empty chunk. air is the id used for blocks of absent
// sections.
func NewChunk(pos ChunkPos, air BlockID) *Chunk {
	return &Chunk{Pos: pos, air: air}
}

// Air returns the block id the chunk treats as air.
func (c *Chunk) Air() BlockID { return c.air }

// Section returns the section at index y, or nil if it is absent or y is out
// of range.
func (c *Chunk) Section(y int) *Section {
	if y < 0 || y >= SectionCount {
		return nil
	}
	return c.Sections[y]
}

// SetSection replaces the section at index y.
func (c *Chunk) SetSection(y int, s *Section) error {
	if y < 0 || y >= SectionCount {
		return fmt.Errorf("section %d: %w", y, ErrIndexOutOfBounds)
	}
	c.Sections[y] = s
	return nil
}

// Block returns the block at the chunk relative position. Positions with y
// outside 0-255 hold air.
func (c *Chunk) Block(x, y, z int) BlockID {
	s := c.Section(y >> 4)
	if s == nil {
		return c.air
	}
	return s.Block(x, y&15, z)
}

// SetBlock sets the block at the chunk relative position, creating the
// section if needed. Positions with y outside 0-255 are ignored.
func (c *Chunk) SetBlock(x, y, z int, id BlockID) {
	if y < 0 || y >= ChunkHeight {
		return
	}
	s := c.Section(y >> 4)
	if s == nil {
		if id == c.air {
			return
		}
		s = NewSection(c.air)
		c.Sections[y>>4] = s
	}
	s.SetBlock(x, y&15, z, id)
}

// Biome returns the biome of a column.
func (c *Chunk) Biome(x, z int) Biome {
	return c.Biomes[z<<4|x]
}

// SetBiome sets the biome of a column.
func (c *Chunk) SetBiome(x, z int, b Biome) {
	c.Biomes[z<<4|x] = b
}

// HeightmapKind selects one of the six heightmaps of a chunk. The order is
// the order of the fields in the packed representation.
type HeightmapKind int

const (
	MotionBlocking HeightmapKind = iota
	MotionBlockingNoLeaves
	OceanFloor
	OceanFloorWG
	WorldSurface
	WorldSurfaceWG

	heightmapKinds = 6
)

// heightmapBits is the width of a single heightmap field in a packed value.
const heightmapBits = 9

// Heightmaps holds, per kind and column, the height one above the highest
// block matching the heightmap, or 0 if no block matches.
type Heightmaps [heightmapKinds][256]uint16

// Height returns the height of a column in the given heightmap.
func (h *Heightmaps) Height(kind HeightmapKind, x, z int) int {
	return int(h[kind][z<<4|x])
}

// pack combines the six heightmaps column-wise into one long per column,
// heightmap i occupying bits 9*i through 9*i+8.
func (h *Heightmaps) pack() []int64 {
	out := make([]int64, 256)
	for col := range out {
		var v int64
		for kind := range heightmapKinds {
			v |= int64(h[kind][col]&0x1ff) << (heightmapBits * kind)
		}
		out[col] = v
	}
	return out
}

// matches reports whether a block of class c counts towards heightmap kind.
func (kind HeightmapKind) matches(c blockClass) bool {
	switch kind {
	case MotionBlocking:
		return c == classSolid || c == classLeaves || c == classFluid
	case MotionBlockingNoLeaves:
		return c == classSolid || c == classFluid
	case OceanFloor, OceanFloorWG:
		return c == classSolid || c == classLeaves
	default:
		return c != classAir
	}
}

// RecalculateHeightmaps recomputes every heightmap from the blocks of the
// chunk. Block ids unknown to the table count as solid.
func (c *Chunk) RecalculateHeightmaps(table BlockTable) {
	classes := make(map[BlockID]blockClass)
	classOf := func(id BlockID) blockClass {
		if cl, ok := classes[id]; ok {
			return cl
		}
		cl := classSolid
		if id == c.air {
			cl = classAir
		} else if name, _, ok := table.Describe(id); ok {
			cl = classify(name)
		}
		classes[id] = cl
		return cl
	}

	c.Heightmaps = Heightmaps{}
	for col := range 256 {
		x, z := col&15, col>>4
		found := 0
		for y := ChunkHeight - 1; y >= 0 && found != 1<<heightmapKinds-1; y-- {
			s := c.Sections[y>>4]
			if s == nil {
				y &^= 15
				continue
			}
			cl := classOf(s.Block(x, y&15, z))
			if cl == classAir {
				continue
			}
			for kind := range HeightmapKind(heightmapKinds) {
				if found&(1<<kind) == 0 && kind.matches(cl) {
					c.Heightmaps[kind][col] = uint16(y + 1)
					found |= 1 << kind
				}
			}
		}
	}
}
