package format

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Tnze/go-mc/nbt"
)

// MaxChunkSize is the largest length a stored chunk record may declare.
// Larger lengths are treated as corrupt rather than read into memory.
const MaxChunkSize = 1 << 20

// Region is an open region file. It owns the file, the header and the sector
// allocator of the region.
//
// A Region is not safe for concurrent use, and no two Regions may be open on
// the same file at the same time: their allocators would hand out the same
// sectors.
type Region struct {
	f      *os.File
	header *Header
	alloc  *SectorAllocator
	blocks BlockTable
	// readOnly is set for regions opened with OpenRegionReadOnly.
	readOnly bool

	now func() time.Time
}

// RegionPath returns the path of the region file at pos in a world directory.
func RegionPath(dir string, pos RegionPos) string {
	return filepath.Join(dir, "region", fmt.Sprintf("r.%d.%d.mca", pos.X, pos.Z))
}

// ParseRegionName parses a region file name of the form r.X.Z.mca.
func ParseRegionName(name string) (RegionPos, bool) {
	var pos RegionPos
	if _, err := fmt.Sscanf(name, "r.%d.%d.mca", &pos.X, &pos.Z); err != nil {
		return RegionPos{}, false
	}
	if RegionPath("", pos) != filepath.Join("region", name) {
		return RegionPos{}, false
	}
	return pos, true
}

// OpenRegion opens an existing region file for reading and writing. Block
// palettes are resolved through blocks.
func OpenRegion(path string, blocks BlockTable) (*Region, error) {
	return openRegion(path, blocks, os.O_RDWR)
}

// OpenRegionReadOnly opens an existing region file for reading only. SaveChunk
// and Delete on the returned region fail with ErrReadOnly.
func OpenRegionReadOnly(path string, blocks BlockTable) (*Region, error) {
	return openRegion(path, blocks, os.O_RDONLY)
}

func openRegion(path string, blocks BlockTable, flag int) (*Region, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open region: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat region: %w", err)
	}
	header, err := ReadHeader(io.NewSectionReader(f, 0, HeaderBytes), stat.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return &Region{
		f:        f,
		header:   header,
		alloc:    NewSectorAllocator(header, uint32(stat.Size()/SectorBytes)),
		blocks:   blocks,
		readOnly: flag == os.O_RDONLY,
		now:      time.Now,
	}, nil
}

// CreateRegion creates a region file with an empty header, creating parent
// directories as needed. An existing file at path is truncated.
func CreateRegion(path string, blocks BlockTable) (*Region, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create region directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create region: %w", err)
	}
	header := &Header{}
	if _, err := header.WriteTo(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Region{
		f:      f,
		header: header,
		alloc:  NewSectorAllocator(header, 2),
		blocks: blocks,
		now:    time.Now,
	}, nil
}

// OpenOrCreateRegion opens the region file at path, creating it if it does
// not exist.
func OpenOrCreateRegion(path string, blocks BlockTable) (*Region, error) {
	r, err := OpenRegion(path, blocks)
	if errors.Is(err, os.ErrNotExist) {
		return CreateRegion(path, blocks)
	}
	return r, err
}

// Close closes the region file.
func (r *Region) Close() error {
	return r.f.Close()
}

// Header returns a copy of the region header.
func (r *Region) Header() Header {
	return *r.header
}

// Allocator returns the sector allocator of the region.
func (r *Region) Allocator() *SectorAllocator {
	return r.alloc
}

// Exists reports whether a chunk is stored for pos.
func (r *Region) Exists(pos ChunkPos) bool {
	return r.header.Location(pos).Exists()
}

// Timestamp returns the time the chunk at pos was last saved. It is the zero
// time if the chunk has no timestamp.
func (r *Region) Timestamp(pos ChunkPos) time.Time {
	ts := r.header.Timestamp(pos)
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0)
}

// Chunks returns the region relative positions of all stored chunks.
func (r *Region) Chunks() []ChunkPos {
	var out []ChunkPos
	for i, loc := range r.header.Locations {
		if loc.Exists() {
			out = append(out, ChunkPos{X: int32(i % RegionSize), Z: int32(i / RegionSize)})
		}
	}
	return out
}

// LoadChunk reads the chunk at pos along with the entity records stored with
// it. Heightmaps are recomputed from the blocks rather than read.
func (r *Region) LoadChunk(pos ChunkPos) (*Chunk, nbt.RawMessage, error) {
	loc := r.header.Location(pos)
	if !loc.Exists() {
		return nil, nbt.RawMessage{}, ErrChunkNotExist
	}
	rd := newReader(io.NewSectionReader(r.f, int64(loc.Offset)*SectorBytes, 4+MaxChunkSize))
	length, err := rd.ReadUInt32()
	if err != nil {
		return nil, nbt.RawMessage{}, fmt.Errorf("read chunk %v length: %w", pos, err)
	}
	if length == 0 || length > MaxChunkSize {
		return nil, nbt.RawMessage{}, &ChunkTooLargeError{Size: int(length)}
	}
	data, err := rd.ReadN(int(length))
	if err != nil {
		return nil, nbt.RawMessage{}, fmt.Errorf("read chunk %v: %w", pos, err)
	}

	root, err := decodeRecord(data)
	if err != nil {
		return nil, nbt.RawMessage{}, fmt.Errorf("decode chunk %v: %w", pos, err)
	}
	c, err := chunkFromRoot(pos, root, r.blocks)
	if err != nil {
		return nil, nbt.RawMessage{}, fmt.Errorf("decode chunk %v: %w", pos, err)
	}
	return c, entitiesOrEmpty(root.Level.Entities), nil
}

// SaveChunk writes c and its entity records to the region and rewrites the
// header. The previous sectors of the chunk, if any, are released first. A
// failed write can leave the file with orphaned sectors; nothing is rolled
// back.
func (r *Region) SaveChunk(c *Chunk, entities nbt.RawMessage) error {
	if r.readOnly {
		return ErrReadOnly
	}
	root, err := chunkToRoot(c, entities, r.blocks)
	if err != nil {
		return fmt.Errorf("encode chunk %v: %w", c.Pos, err)
	}
	payload, err := encodeRecord(root)
	if err != nil {
		return fmt.Errorf("encode chunk %v: %w", c.Pos, err)
	}
	total := len(payload) + 4
	sectors := (total + SectorBytes - 1) / SectorBytes
	if sectors > maxSectorCount {
		return &ChunkTooLargeError{Size: len(payload)}
	}

	if loc := r.header.Location(c.Pos); loc.Exists() {
		r.alloc.Free(loc.Block())
	}
	block := r.alloc.Allocate(uint32(sectors))
	if block.Offset > maxSectorOffset {
		r.alloc.Free(block)
		return fmt.Errorf("region full: sector offset %d cannot be stored", block.Offset)
	}

	buf := newBuffer(sectors * SectorBytes)
	buf.WriteUInt32(uint32(len(payload)))
	_, _ = buf.Write(payload)
	buf.WriteZeros(padding(total))
	if _, err := r.f.WriteAt(buf.Bytes(), int64(block.Offset)*SectorBytes); err != nil {
		return fmt.Errorf("write chunk %v: %w", c.Pos, err)
	}

	r.header.SetLocation(c.Pos, ChunkLocation(block))
	r.header.SetTimestamp(c.Pos, uint32(r.now().Unix()))
	return r.writeHeader()
}

// Delete removes the chunk at pos from the region. Deleting a chunk that is
// not stored is a no-op.
func (r *Region) Delete(pos ChunkPos) error {
	if r.readOnly {
		return ErrReadOnly
	}
	loc := r.header.Location(pos)
	if !loc.Exists() {
		return nil
	}
	r.alloc.Free(loc.Block())
	r.header.SetLocation(pos, ChunkLocation{})
	r.header.SetTimestamp(pos, 0)
	return r.writeHeader()
}

func (r *Region) writeHeader() error {
	data, _ := r.header.MarshalBinary()
	if _, err := r.f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// padding returns the number of zero bytes that align a record of total
// bytes to the next sector boundary. Aligned records get no padding.
func padding(total int) int {
	return (SectorBytes - total%SectorBytes) % SectorBytes
}

// decodeRecord decompresses and parses a stored record: a compression id
// followed by the compressed chunk root.
func decodeRecord(data []byte) (chunkRoot, error) {
	var root chunkRoot
	c := Compression(data[0])
	if !c.Valid() {
		return root, &InvalidCompressionError{ID: data[0]}
	}
	zr, err := c.NewReader(bytes.NewReader(data[1:]))
	if err != nil {
		return root, &MalformedSchemaError{Reason: "decompress " + c.String(), Err: err}
	}
	defer zr.Close()
	if _, err := nbt.NewDecoder(zr).Decode(&root); err != nil {
		return root, &MalformedSchemaError{Reason: "parse chunk root", Err: err}
	}
	if root.DataVersion != DataVersion {
		return root, &UnsupportedDataVersionError{Version: root.DataVersion}
	}
	return root, nil
}

// encodeRecord serialises and compresses a chunk root, prefixed with its
// compression id.
func encodeRecord(root chunkRoot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(CompressionZlib))
	zw, err := CompressionZlib.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := nbt.NewEncoder(zw).Encode(root, ""); err != nil {
		return nil, fmt.Errorf("encode chunk root: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress chunk root: %w", err)
	}
	return buf.Bytes(), nil
}

// chunkFromRoot rebuilds a chunk from its stored form.
func chunkFromRoot(pos ChunkPos, root chunkRoot, blocks BlockTable) (*Chunk, error) {
	level := root.Level
	if level.Entities.Type != nbt.TagEnd && level.Entities.Type != nbt.TagList {
		return nil, &MalformedSchemaError{Reason: fmt.Sprintf("entities stored as tag type %d", level.Entities.Type)}
	}
	air, _ := blocks.Resolve("minecraft:air", nil)
	c := NewChunk(pos, air)

	for _, ls := range level.Sections {
		s, err := decodeSection(ls, blocks)
		if err != nil {
			return nil, err
		}
		c.Sections[ls.Y] = s
	}

	if len(level.Biomes) != BiomeCount {
		return nil, fmt.Errorf("%d biomes: %w", len(level.Biomes), ErrIndexOutOfBounds)
	}
	for i, id := range level.Biomes {
		b, ok := BiomeByID(id)
		if !ok {
			return nil, &InvalidBiomeIDError{ID: id}
		}
		c.Biomes[i] = b
	}

	c.RecalculateHeightmaps(blocks)
	return c, nil
}

// chunkToRoot converts a chunk to its stored form. The heightmaps of c are
// recomputed first, so the stored ones always match the blocks.
func chunkToRoot(c *Chunk, entities nbt.RawMessage, blocks BlockTable) (chunkRoot, error) {
	if entities.Type != nbt.TagEnd && entities.Type != nbt.TagList {
		return chunkRoot{}, fmt.Errorf("entities must be a list, got tag type %d", entities.Type)
	}
	c.RecalculateHeightmaps(blocks)
	level := chunkLevel{
		XPos:       c.Pos.X,
		ZPos:       c.Pos.Z,
		Biomes:     make([]int32, BiomeCount),
		Entities:   entitiesOrEmpty(entities),
		Heightmaps: c.Heightmaps.pack(),
	}
	for y, s := range c.Sections {
		if s == nil {
			continue
		}
		ls, err := encodeSection(y, s, blocks)
		if err != nil {
			return chunkRoot{}, fmt.Errorf("section %d: %w", y, err)
		}
		level.Sections = append(level.Sections, ls)
	}
	for i, b := range c.Biomes {
		level.Biomes[i] = b.ID()
	}
	return chunkRoot{DataVersion: DataVersion, Level: level}, nil
}
