package main

import "github.com/urfave/cli/v3"

const (
	envCheckpoint = "QSIM_CHECKPOINT"
	envData       = "QSIM_DATA"
)

var (
	checkpointPath string
	archPath       string
	totalBits      int
	intBits        int
	roundMode      string
	saturation     string
	dataDir        string
	dataSplit      string
	limit          int
	batchSize      int
	resize         int
	workers        int
	configFile     string
	logLevel       string
	logFormat      string
	debug          bool
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/qsim/config.yaml)",
		Destination: &configFile,
	}
}

func checkpointFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"c"},
			Usage:       "path to a .safetensors state dict",
			Sources:     cli.EnvVars(envCheckpoint),
			Destination: &checkpointPath,
		},
		archFlag(),
	}
}

func archFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "arch",
		Usage:       "architecture YAML (default: built-in SqueezeNet 1.0, 10 classes)",
		Destination: &archPath,
	}
}

func formatFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "total-bits",
			Aliases:     []string{"w"},
			Usage:       "total word length W of ap_fixed<W,I>",
			Value:       8,
			Destination: &totalBits,
		},
		&cli.IntFlag{
			Name:        "int-bits",
			Aliases:     []string{"i"},
			Usage:       "integer bits I of ap_fixed<W,I>, sign included",
			Value:       4,
			Destination: &intBits,
		},
		&cli.StringFlag{
			Name:        "round",
			Usage:       "rounding mode (half_even, half_up, trunc)",
			Value:       "half_even",
			Destination: &roundMode,
		},
		&cli.StringFlag{
			Name:        "saturation",
			Usage:       "clamp range (int: [-2^(I-1), 2^(I-1)-1], word: full W-bit word)",
			Value:       "int",
			Destination: &saturation,
		},
	}
}

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data",
			Aliases:     []string{"d"},
			Usage:       "directory holding the CIFAR-10 binary batches",
			Sources:     cli.EnvVars(envData),
			Destination: &dataDir,
		},
		&cli.StringFlag{
			Name:        "split",
			Usage:       "dataset split (test, train)",
			Value:       "test",
			Destination: &dataSplit,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "evaluate only the first N images (0 = all)",
			Destination: &limit,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "images per forward pass",
			Value:       64,
			Destination: &batchSize,
		},
		&cli.IntFlag{
			Name:        "resize",
			Usage:       "resize images to NxN (0 = the architecture's input size)",
			Destination: &resize,
		},
	}
}

func runtimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "parallel workers (0 = GOMAXPROCS)",
			Destination: &workers,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func flagsOf(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
