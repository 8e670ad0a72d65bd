package format

import (
	"github.com/Tnze/go-mc/nbt"
)

// DataVersion is the only chunk data version this package reads and writes,
// the one used by Minecraft Java Edition 1.13.2.
const DataVersion int32 = 1631

// chunkRoot is the root compound of a stored chunk record. Field names are
// part of the file format.
type chunkRoot struct {
	DataVersion int32      `nbt:"DataVersion"`
	Level       chunkLevel `nbt:"Level"`
}

type chunkLevel struct {
	XPos       int32          `nbt:"xPos"`
	ZPos       int32          `nbt:"zPos"`
	Sections   []levelSection `nbt:"Sections"`
	Biomes     []int32        `nbt:"Biomes"`
	Entities   nbt.RawMessage `nbt:"Entities"`
	Heightmaps []int64        `nbt:"Heightmaps"`
}

type levelSection struct {
	Y           int8           `nbt:"Y"`
	BlockStates []int64        `nbt:"BlockStates"`
	Palette     []paletteEntry `nbt:"Palette"`
	BlockLight  []byte         `nbt:"BlockLight"`
	SkyLight    []byte         `nbt:"SkyLight"`
}

type paletteEntry struct {
	Name       string            `nbt:"Name"`
	Properties map[string]string `nbt:"Properties,omitempty"`
}

// EmptyEntities is an empty entity list.
var EmptyEntities = nbt.RawMessage{Type: nbt.TagList, Data: []byte{nbt.TagEnd, 0, 0, 0, 0}}

// MarshalEntities encodes a slice of entity records into the opaque list
// stored with a chunk.
func MarshalEntities(records any) (nbt.RawMessage, error) {
	data, err := nbt.Marshal(records)
	if err != nil {
		return nbt.RawMessage{}, err
	}
	var raw nbt.RawMessage
	if err := nbt.Unmarshal(data, &raw); err != nil {
		return nbt.RawMessage{}, err
	}
	return raw, nil
}

// entitiesOrEmpty returns e, or EmptyEntities if e holds no tag.
func entitiesOrEmpty(e nbt.RawMessage) nbt.RawMessage {
	if e.Type == nbt.TagEnd {
		return EmptyEntities
	}
	return e
}
