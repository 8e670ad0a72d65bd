package main

import (
	"fmt"

	"github.com/oriumgames/anvil/format"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type checkResult struct {
	chunks  int
	corrupt int
	failed  int
	deleted int
}

func check(c *cli.Context) error {
	blocks, err := blockTable(c.String("blocks"))
	if err != nil {
		return err
	}
	paths, err := regionFiles(c.Args().Slice())
	if err != nil {
		return err
	}

	progress, bar := newProgressBar("Checking chunks:", c.Bool("quiet"))
	var res checkResult
	for _, path := range paths {
		if err := checkRegion(path, blocks, c.Bool("delete"), &res, func(n int) {
			bar.SetTotal(bar.Current()+int64(n), false)
		}, bar.Increment); err != nil {
			logger.WithField("region", path).WithError(err).Error("Cannot check region.")
			res.failed++
		}
	}
	finish(progress, bar)

	fmt.Printf("%d chunks in %d regions: %d corrupt, %d unreadable regions", res.chunks, len(paths), res.corrupt, res.failed)
	if res.deleted > 0 {
		fmt.Printf(", %d chunks deleted", res.deleted)
	}
	fmt.Println()
	if res.corrupt-res.deleted > 0 || res.failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// checkRegion loads every chunk of a region. With del set, chunks holding
// corrupt data are removed from the region.
func checkRegion(path string, blocks format.BlockTable, del bool, res *checkResult, add func(int), done func()) error {
	pos, err := regionPos(path)
	if err != nil {
		return err
	}
	open := format.OpenRegionReadOnly
	if del {
		open = format.OpenRegion
	}
	r, err := open(path, blocks)
	if err != nil {
		return err
	}
	defer r.Close()

	chunks := r.Chunks()
	add(len(chunks))
	for _, local := range chunks {
		res.chunks++
		cp := pos.Chunk(local.X, local.Z)
		_, _, err := r.LoadChunk(cp)
		done()
		if err == nil {
			continue
		}
		if !format.IsCorrupt(err) {
			return fmt.Errorf("load chunk %v: %w", cp, err)
		}

		res.corrupt++
		log := logger.WithFields(logrus.Fields{"region": path, "chunk": cp}).WithError(err)
		if !del {
			log.Warn("Corrupt chunk.")
			continue
		}
		if err := r.Delete(cp); err != nil {
			return fmt.Errorf("delete chunk %v: %w", cp, err)
		}
		res.deleted++
		log.Warn("Deleted corrupt chunk.")
	}
	return nil
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "load every chunk and report the ones that cannot be decoded",
		ArgsUsage: "WORLD-DIR|REGION-FILE...",
		Action:    check,
		Flags: []cli.Flag{
			blocksFlag,
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "remove corrupt chunks from their regions so they are generated again",
			},
		},
	}
}
