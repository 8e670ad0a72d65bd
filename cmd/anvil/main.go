// Command anvil inspects, checks and imports worlds stored in Anvil region
// files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oriumgames/anvil"
	"github.com/oriumgames/anvil/format"
	"github.com/oriumgames/anvil/vanilla"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var logger = logrus.StandardLogger()

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	app := &cli.App{
		Name:  "anvil",
		Usage: "Anvil region file tool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Hide progress bars"},
		},
		Before: setLoggerLevel,
		Commands: []*cli.Command{
			infoCommand(),
			checkCommand(),
			dumpCommand(),
			importCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func setLoggerLevel(c *cli.Context) error {
	lvl, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

// blocksFlag selects the block table palettes are read with.
var blocksFlag = &cli.StringFlag{
	Name:  "blocks",
	Value: "bedrock",
	Usage: "Block states of the palettes: bedrock or java (written by the provider), vanilla (written by Java Edition)",
}

func blockTable(name string) (format.BlockTable, error) {
	switch name {
	case "bedrock":
		return anvil.Blocks(false)
	case "java":
		return anvil.Blocks(true)
	case "vanilla":
		return vanilla.Blocks, nil
	}
	return nil, fmt.Errorf("unknown block table %q", name)
}

// regionFiles expands the arguments to region file paths. A directory is
// taken as a world directory and contributes the regions of every dimension.
func regionFiles(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("WORLD-DIR or REGION-FILE is needed")
	}
	var paths []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			paths = append(paths, arg)
			continue
		}
		for _, dim := range []string{".", "DIM-1", "DIM1"} {
			dir := filepath.Join(arg, dim, "region")
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("list regions: %w", err)
			}
			for _, e := range entries {
				if _, ok := format.ParseRegionName(e.Name()); ok {
					paths = append(paths, filepath.Join(dir, e.Name()))
				}
			}
		}
	}
	return paths, nil
}

// regionPos returns the position of a region file from its name.
func regionPos(path string) (format.RegionPos, error) {
	pos, ok := format.ParseRegionName(filepath.Base(path))
	if !ok {
		return format.RegionPos{}, fmt.Errorf("%s is not named r.X.Z.mca", path)
	}
	return pos, nil
}
