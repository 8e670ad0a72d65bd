package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Tnze/go-mc/nbt"
	"github.com/oriumgames/anvil/format"
	"github.com/urfave/cli/v2"
)

func dump(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("WORLD-DIR or REGION-FILE is needed")
	}
	blocks, err := blockTable(c.String("blocks"))
	if err != nil {
		return err
	}
	pos := format.ChunkPos{X: int32(c.Int("x")), Z: int32(c.Int("z"))}

	path := c.Args().First()
	if fi, err := os.Stat(path); err != nil {
		return err
	} else if fi.IsDir() {
		path = format.RegionPath(path, pos.Region())
	}

	r, err := format.OpenRegionReadOnly(path, blocks)
	if err != nil {
		return err
	}
	defer r.Close()

	ch, entities, err := r.LoadChunk(pos)
	if err != nil {
		return err
	}

	h := r.Header()
	loc := h.Location(pos)
	fmt.Printf("chunk %v in %s, sectors %d+%d, saved %s\n", pos, path, loc.Offset, loc.Count, r.Timestamp(pos).Format(time.RFC3339))
	for y, s := range ch.Sections {
		if s == nil {
			continue
		}
		palette := s.Palette()
		nonAir := 0
		for _, id := range s.Blocks() {
			if id != ch.Air() {
				nonAir++
			}
		}
		fmt.Printf("section %d: %d blocks, palette of %d\n", y, nonAir, len(palette))
		for i, id := range palette {
			fmt.Printf("  %3d %s\n", i, describe(blocks, id))
		}
	}

	biomes := make(map[format.Biome]int)
	for _, b := range ch.Biomes {
		biomes[b]++
	}
	fmt.Println("biomes:")
	for _, b := range slices.Sorted(maps.Keys(biomes)) {
		fmt.Printf("  %s (%d): %d columns\n", b, b.ID(), biomes[b])
	}

	fmt.Println("heightmaps:")
	for kind, name := range heightmapNames {
		lo, hi := format.ChunkHeight, 0
		for z := range 16 {
			for x := range 16 {
				height := ch.Heightmaps.Height(format.HeightmapKind(kind), x, z)
				lo, hi = min(lo, height), max(hi, height)
			}
		}
		fmt.Printf("  %-26s %d..%d\n", name, lo, hi)
	}

	var records []struct {
		ID string `nbt:"id"`
	}
	if entities.Type == nbt.TagList {
		if err := entities.Unmarshal(&records); err != nil {
			logger.WithError(err).Warn("Cannot decode entity list.")
		}
	}
	fmt.Printf("entities: %d\n", len(records))
	for _, e := range records {
		fmt.Printf("  %s\n", e.ID)
	}
	return nil
}

var heightmapNames = []string{
	format.MotionBlocking:         "MOTION_BLOCKING",
	format.MotionBlockingNoLeaves: "MOTION_BLOCKING_NO_LEAVES",
	format.OceanFloor:             "OCEAN_FLOOR",
	format.OceanFloorWG:           "OCEAN_FLOOR_WG",
	format.WorldSurface:           "WORLD_SURFACE",
	format.WorldSurfaceWG:         "WORLD_SURFACE_WG",
}

// describe formats a block state as name[key=value,...].
func describe(blocks format.BlockTable, id format.BlockID) string {
	name, props, ok := blocks.Describe(id)
	if !ok {
		return fmt.Sprintf("<unknown %d>", id)
	}
	if len(props) == 0 {
		return name
	}
	kv := make([]string, 0, len(props))
	for _, k := range slices.Sorted(maps.Keys(props)) {
		kv = append(kv, k+"="+props[k])
	}
	return name + "[" + strings.Join(kv, ",") + "]"
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "print the sections, palettes, biomes and heightmaps of a chunk",
		ArgsUsage: "WORLD-DIR|REGION-FILE",
		Action:    dump,
		Flags: []cli.Flag{
			blocksFlag,
			&cli.IntFlag{Name: "x", Usage: "chunk X coordinate", Required: true},
			&cli.IntFlag{Name: "z", Usage: "chunk Z coordinate", Required: true},
		},
	}
}
