package anvil

import (
	"fmt"
	"maps"

	mcnbt "github.com/Tnze/go-mc/nbt"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/df-mc/dragonfly/server/world/chunk"
	"github.com/oriumgames/anvil/format"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// storedEntity is the record kept in the entity list of a chunk. Position and
// identity are kept in Java fields so other tools can read them; the full
// dragonfly data travels in BedrockData.
type storedEntity struct {
	ID          string    `nbt:"id"`
	Pos         []float64 `nbt:"Pos"`
	Motion      []float64 `nbt:"Motion"`
	Rotation    []float32 `nbt:"Rotation"`
	UniqueID    int64     `nbt:"UniqueID"`
	BedrockData []byte    `nbt:"BedrockData"`
}

// sectionRange returns the stored sections that lie within a dimension range.
func sectionRange(r cube.Range) (lo, hi int) {
	lo = max(r[0], 0) >> 4
	hi = min(r[1]+1, format.ChunkHeight) >> 4
	return lo, hi
}

// chunkToColumn converts a stored chunk to a dragonfly column. Block ids of
// the chunk are runtime ids. Stored sections outside the dimension range,
// such as those above y=127 in the nether, are dropped.
func chunkToColumn(c *format.Chunk, entities mcnbt.RawMessage, dimRange cube.Range) (*chunk.Column, error) {
	ch := chunk.New(uint32(c.Air()), dimRange)

	lo, hi := sectionRange(dimRange)
	for sy := lo; sy < hi; sy++ {
		s := c.Sections[sy]
		if s == nil || s.Uniform(c.Air()) {
			continue
		}
		for y := range 16 {
			for z := range 16 {
				for x := range 16 {
					if id := s.Block(x, y, z); id != c.Air() {
						ch.SetBlock(uint8(x), int16(sy<<4|y), uint8(z), 0, uint32(id))
					}
				}
			}
		}
	}

	for z := range 16 {
		for x := range 16 {
			biome := biomeToRuntime(c.Biome(x, z))
			for y := dimRange[0]; y <= dimRange[1]; y++ {
				ch.SetBiome(uint8(x), int16(y), uint8(z), biome)
			}
		}
	}

	ents, err := decodeEntities(entities)
	if err != nil {
		return nil, err
	}
	return &chunk.Column{Chunk: ch, Entities: ents}, nil
}

// columnToChunk converts a dragonfly column to a chunk for storage. Only the
// stored height range, 0-255, is kept: dropped is the number of non-air blocks
// of the column outside it. Block entities and scheduled updates are not
// stored.
func columnToChunk(col *chunk.Column, pos world.ChunkPos, air format.BlockID) (c *format.Chunk, entities mcnbt.RawMessage, dropped int, err error) {
	ch := col.Chunk
	r := ch.Range()
	c = format.NewChunk(format.ChunkPos{X: pos[0], Z: pos[1]}, air)

	base := r[0] >> 4
	for i, sub := range ch.Sub() {
		if sub.Empty() {
			continue
		}
		layers := sub.Layers()
		if len(layers) == 0 {
			continue
		}
		storage := layers[0]
		sy := base + i
		stored := sy >= 0 && sy < format.SectionCount
		for y := range 16 {
			for z := range 16 {
				for x := range 16 {
					id := format.BlockID(storage.At(uint8(x), uint8(y), uint8(z)))
					if !stored {
						if id != air {
							dropped++
						}
						continue
					}
					c.SetBlock(x, sy<<4|y, z, id)
				}
			}
		}
	}

	// Biomes are stored per column and sampled at sea level.
	sampleY := int16(min(max(63, r[0]), r[1]))
	for z := range 16 {
		for x := range 16 {
			c.SetBiome(x, z, biomeFromRuntime(ch.Biome(uint8(x), sampleY, uint8(z))))
		}
	}

	entities, err = encodeEntities(col.Entities)
	if err != nil {
		return nil, mcnbt.RawMessage{}, 0, err
	}
	return c, entities, dropped, nil
}

// biomeToRuntime maps a stored biome to a dragonfly biome id. Legacy biome
// ids are shared by both editions; unknown ones become plains.
func biomeToRuntime(b format.Biome) uint32 {
	if wb, ok := world.BiomeByID(int(b.ID())); ok {
		return uint32(wb.EncodeBiome())
	}
	return uint32(format.BiomePlains)
}

func biomeFromRuntime(id uint32) format.Biome {
	if b, ok := format.BiomeByID(int32(id)); ok {
		return b
	}
	if wb, ok := world.BiomeByID(int(id)); ok {
		if b, ok := format.BiomeByName(wb.String()); ok {
			return b
		}
	}
	return format.BiomePlains
}

// encodeEntities converts dragonfly entities to the entity list of a chunk.
func encodeEntities(entities []chunk.Entity) (mcnbt.RawMessage, error) {
	if len(entities) == 0 {
		return format.EmptyEntities, nil
	}
	records := make([]storedEntity, 0, len(entities))
	for _, e := range entities {
		data := maps.Clone(e.Data)
		if data == nil {
			data = map[string]any{}
		}
		data["UniqueID"] = e.ID
		blob, err := nbt.MarshalEncoding(data, nbt.LittleEndian)
		if err != nil {
			return mcnbt.RawMessage{}, fmt.Errorf("encode entity %d: %w", e.ID, err)
		}

		rec := storedEntity{
			ID:          "minecraft:unknown",
			Pos:         make([]float64, 3),
			Motion:      make([]float64, 3),
			Rotation:    make([]float32, 2),
			UniqueID:    e.ID,
			BedrockData: blob,
		}
		if id, ok := data["identifier"].(string); ok {
			rec.ID = id
		}
		if pos, ok := float32s(data["Pos"]); ok && len(pos) == 3 {
			rec.Pos = []float64{float64(pos[0]), float64(pos[1]), float64(pos[2])}
		}
		if motion, ok := float32s(data["Motion"]); ok && len(motion) == 3 {
			rec.Motion = []float64{float64(motion[0]), float64(motion[1]), float64(motion[2])}
		}
		if yaw, ok := data["Yaw"].(float32); ok {
			rec.Rotation[0] = yaw
		}
		if pitch, ok := data["Pitch"].(float32); ok {
			rec.Rotation[1] = pitch
		}
		records = append(records, rec)
	}
	return format.MarshalEntities(records)
}

// decodeEntities is the inverse of encodeEntities. Records without dragonfly
// data, such as those written by other tools, are rebuilt from their Java
// fields.
func decodeEntities(raw mcnbt.RawMessage) ([]chunk.Entity, error) {
	if raw.Type != mcnbt.TagList || len(raw.Data) == 0 || raw.Data[0] == mcnbt.TagEnd {
		return nil, nil
	}
	var records []storedEntity
	if err := raw.Unmarshal(&records); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}

	entities := make([]chunk.Entity, 0, len(records))
	for _, rec := range records {
		data := map[string]any{}
		if len(rec.BedrockData) > 0 {
			if err := nbt.UnmarshalEncoding(rec.BedrockData, &data, nbt.LittleEndian); err != nil {
				return nil, fmt.Errorf("decode entity %d: %w", rec.UniqueID, err)
			}
		} else {
			data["identifier"] = rec.ID
			if len(rec.Pos) == 3 {
				data["Pos"] = []float32{float32(rec.Pos[0]), float32(rec.Pos[1]), float32(rec.Pos[2])}
			}
			if len(rec.Motion) == 3 {
				data["Motion"] = []float32{float32(rec.Motion[0]), float32(rec.Motion[1]), float32(rec.Motion[2])}
			}
			if len(rec.Rotation) == 2 {
				data["Yaw"], data["Pitch"] = rec.Rotation[0], rec.Rotation[1]
			}
		}
		if _, ok := data["identifier"].(string); !ok {
			data["identifier"] = rec.ID
		}
		entities = append(entities, chunk.Entity{ID: rec.UniqueID, Data: data})
	}
	return entities, nil
}

// float32s returns a list of floats as found in entity data, which holds
// []float32 when built in memory and []any when decoded.
func float32s(v any) ([]float32, bool) {
	switch v := v.(type) {
	case []float32:
		return v, true
	case []any:
		out := make([]float32, len(v))
		for i, f := range v {
			x, ok := f.(float32)
			if !ok {
				return nil, false
			}
			out[i] = x
		}
		return out, true
	}
	return nil, false
}
