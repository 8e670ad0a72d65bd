package main

import (
	"fmt"
	"time"

	"github.com/oriumgames/anvil/format"
	"github.com/urfave/cli/v2"
)

func info(c *cli.Context) error {
	paths, err := regionFiles(c.Args().Slice())
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := regionInfo(path, c.Bool("chunks")); err != nil {
			logger.WithField("region", path).WithError(err).Error("Cannot read region.")
		}
	}
	return nil
}

func regionInfo(path string, listChunks bool) error {
	pos, err := regionPos(path)
	if err != nil {
		return err
	}
	// Nothing is decoded, so no block table is needed.
	r, err := format.OpenRegionReadOnly(path, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	chunks := r.Chunks()
	alloc := r.Allocator()

	var oldest, newest time.Time
	for _, local := range chunks {
		ts := r.Timestamp(local)
		if ts.IsZero() {
			continue
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if ts.After(newest) {
			newest = ts
		}
	}

	fmt.Printf("%s: region %v\n", path, pos)
	fmt.Printf("  chunks:  %d / %d\n", len(chunks), format.ChunksPerRegion)
	fmt.Printf("  sectors: %d used, %d free, %d total (%d bytes)\n",
		alloc.Used(), alloc.Len()-alloc.Used(), alloc.Len(), int64(alloc.Len())*format.SectorBytes)
	if !oldest.IsZero() {
		fmt.Printf("  saved:   %s .. %s\n", oldest.Format(time.RFC3339), newest.Format(time.RFC3339))
	}
	if !listChunks {
		return nil
	}
	for _, local := range chunks {
		loc := h.Location(local)
		fmt.Printf("  %v sectors %d+%d saved %s\n",
			pos.Chunk(local.X, local.Z), loc.Offset, loc.Count, r.Timestamp(local).Format(time.RFC3339))
	}
	return nil
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show header and sector usage of region files",
		ArgsUsage: "WORLD-DIR|REGION-FILE...",
		Action:    info,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "chunks",
				Aliases: []string{"c"},
				Usage:   "list the location and save time of every stored chunk",
			},
		},
	}
}
