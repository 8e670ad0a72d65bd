package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	_ "unsafe"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/df-mc/dragonfly/server/world/chunk"
	"github.com/oriumgames/anvil"
	"github.com/oriumgames/anvil/format"
	"github.com/oriumgames/crocon"
	schemformat "github.com/oriumgames/schem/format"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// importer places the blocks and biomes of a schematic into dragonfly
// columns, converting Java states to Bedrock ones.
type importer struct {
	conv *crocon.Converter
	from string
	air  uint32
	dim  world.Dimension

	columns map[world.ChunkPos]*chunk.Column
	blocks  map[string]uint32
	biomes  map[string]uint32
}

func (imp *importer) column(x, z int) *chunk.Column {
	pos := world.ChunkPos{int32(x >> 4), int32(z >> 4)}
	col, ok := imp.columns[pos]
	if !ok {
		col = &chunk.Column{Chunk: chunk.New(imp.air, imp.dim.Range())}
		imp.columns[pos] = col
	}
	return col
}

// block returns the runtime id of a Java block state.
func (imp *importer) block(state *schemformat.BlockState) (uint32, error) {
	key := fmt.Sprint(state.Name, state.Properties)
	if rid, ok := imp.blocks[key]; ok {
		return rid, nil
	}
	b, err := imp.conv.ConvertBlock(crocon.BlockRequest{
		ConversionRequest: crocon.ConversionRequest{
			FromVersion: imp.from,
			ToVersion:   protocol.CurrentVersion,
			FromEdition: crocon.JavaEdition,
			ToEdition:   crocon.BedrockEdition,
		},
		Block: crocon.Block{
			ID:     state.Name,
			States: state.Properties,
		},
	})
	if err != nil {
		return 0, err
	}

	// Drop states the block does not have in this version.
	validProps := blockProperties[b.ID]
	for k := range b.States {
		if _, ok := validProps[k]; !ok {
			delete(b.States, k)
		}
	}
	rid, ok := chunk.StateToRuntimeID(b.ID, b.States)
	if !ok {
		return 0, fmt.Errorf("no bedrock block state %s %v", b.ID, b.States)
	}
	imp.blocks[key] = rid
	return rid, nil
}

// biome returns the dragonfly id of a Java biome.
func (imp *importer) biome(name string) (uint32, error) {
	if id, ok := imp.biomes[name]; ok {
		return id, nil
	}
	b, err := imp.conv.ConvertBiome(crocon.BiomeRequest{
		ConversionRequest: crocon.ConversionRequest{
			FromVersion: imp.from,
			ToVersion:   protocol.CurrentVersion,
			FromEdition: crocon.JavaEdition,
			ToEdition:   crocon.BedrockEdition,
		},
		Data: map[string]any{
			"name": name,
		},
	})
	if err != nil {
		return 0, err
	}
	wb, ok := world.BiomeByID(int(b.ID))
	if !ok {
		return 0, fmt.Errorf("invalid biome id: %d", b.ID)
	}
	id := uint32(wb.EncodeBiome())
	imp.biomes[name] = id
	return id, nil
}

func importSchematic(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("SCHEMATIC is needed")
	}
	input := c.Args().First()
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	schematic, err := schemformat.Read(f)
	if err != nil {
		return fmt.Errorf("read schematic: %w", err)
	}
	fromVersion := schematic.Version()
	if fromVersion == "" {
		return fmt.Errorf("schematic has no version")
	}

	conv, err := crocon.NewConverter()
	if err != nil {
		return fmt.Errorf("create converter: %w", err)
	}
	air, ok := chunk.StateToRuntimeID("minecraft:air", nil)
	if !ok {
		return fmt.Errorf("no runtime id for minecraft:air")
	}
	imp := &importer{
		conv:    conv,
		from:    fromVersion,
		air:     air,
		dim:     world.Overworld,
		columns: make(map[world.ChunkPos]*chunk.Column),
		blocks:  make(map[string]uint32),
		biomes:  make(map[string]uint32),
	}

	width, height, length := schematic.Dimensions()
	offsetX, offsetY, offsetZ := schematic.Offset()
	offsetX += c.Int("x")
	offsetY += c.Int("y")
	offsetZ += c.Int("z")
	logger.WithFields(logrus.Fields{
		"size":    fmt.Sprintf("%dx%dx%d", width, height, length),
		"offset":  fmt.Sprintf("%d,%d,%d", offsetX, offsetY, offsetZ),
		"version": fromVersion,
	}).Info("Importing schematic.")

	progress, bar := newProgressBar("Converting blocks:", c.Bool("quiet"))
	bar.SetTotal(int64(width*height*length), false)
	var failed, outside, blockEntities int
	for x := range width {
		for y := range height {
			for z := range length {
				worldX, worldY, worldZ := x+offsetX, y+offsetY, z+offsetZ
				if worldY < 0 || worldY >= format.ChunkHeight {
					outside++
					continue
				}
				col := imp.column(worldX, worldZ)
				lx, ly, lz := uint8(worldX&0xf), int16(worldY), uint8(worldZ&0xf)

				state := schematic.Block(x, y, z)
				if state != nil && state.Name != "minecraft:air" && state.Name != "air" {
					rid, err := imp.block(state)
					if err != nil {
						logger.WithFields(logrus.Fields{"block": state.Name, "pos": cube.Pos{worldX, worldY, worldZ}}).WithError(err).Debug("Cannot convert block.")
						failed++
					} else {
						col.Chunk.SetBlock(lx, ly, lz, 0, rid)
					}
				}
				if name := schematic.Biome(x, y, z); name != "" {
					id, err := imp.biome(name)
					if err != nil {
						logger.WithField("biome", name).WithError(err).Debug("Cannot convert biome.")
					} else {
						col.Chunk.SetBiome(lx, ly, lz, id)
					}
				}
				if schematic.BlockEntity(x, y, z) != nil {
					blockEntities++
				}
			}
		}
		bar.IncrBy(height * length)
	}
	finish(progress, bar)

	if failed > 0 {
		logger.WithField("blocks", failed).Warn("Some blocks could not be converted and were left as air.")
	}
	if outside > 0 {
		logger.WithField("blocks", outside).Warn("Some blocks are outside y=0-255 and were skipped.")
	}
	if n := len(schematic.Entities()); blockEntities > 0 || n > 0 {
		logger.WithFields(logrus.Fields{"block_entities": blockEntities, "entities": n}).Warn("Block entities and entities are not imported.")
	}

	prov, err := anvil.Config{
		Dir:                 c.String("out"),
		Log:                 logger,
		SettingsCompression: anvil.CompressionLevelDefault,
		JavaBlocks:          c.Bool("java"),
	}.New()
	if err != nil {
		return err
	}
	for pos, col := range imp.columns {
		if err := prov.StoreColumn(pos, imp.dim, col); err != nil {
			_ = prov.Close()
			return fmt.Errorf("store column %v: %w", pos, err)
		}
	}

	s := prov.Settings()
	s.Name = c.String("name")
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}
	s.Spawn = cube.Pos{offsetX + width/2, min(offsetY+height, format.ChunkHeight-1), offsetZ + length/2}
	prov.SaveSettings(s)
	if err := prov.Close(); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{"chunks": len(imp.columns), "dir": c.String("out")}).Info("Import complete.")
	return nil
}

//go:linkname blockProperties github.com/df-mc/dragonfly/server/world.blockProperties
var blockProperties map[string]map[string]any

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "convert a Sponge schematic into a world of region files",
		ArgsUsage: "SCHEMATIC",
		Action:    importSchematic,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "world directory to write", Required: true},
			&cli.StringFlag{Name: "name", Usage: "world name, defaults to the schematic file name"},
			&cli.BoolFlag{Name: "java", Usage: "write Java Edition block states"},
			&cli.IntFlag{Name: "x", Usage: "shift the schematic along X"},
			&cli.IntFlag{Name: "y", Usage: "shift the schematic along Y"},
			&cli.IntFlag{Name: "z", Usage: "shift the schematic along Z"},
		},
	}
}
