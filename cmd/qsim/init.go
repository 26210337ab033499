package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/model"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/safetensors"
)

func initCmd() *cli.Command {
	var (
		out  string
		seed int64
	)
	return &cli.Command{
		Name:  "init",
		Usage: "Write a randomly initialised checkpoint for the architecture",
		Flags: []cli.Flag{
			archFlag(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output .safetensors path", Destination: &out},
			&cli.Int64Flag{Name: "seed", Usage: "initialisation seed", Value: 1, Destination: &seed},
		},
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if out == "" {
				return errors.New("--out is required")
			}
			arch, err := loadArch()
			if err != nil {
				return err
			}
			set, err := model.Init(arch, uint64(seed))
			if err != nil {
				return err
			}
			meta := map[string]string{"arch": arch.Name, "seed": strconv.FormatInt(seed, 10)}
			if err := safetensors.WriteFile(out, set, meta); err != nil {
				return err
			}
			logger.FromContext(ctx).Info("checkpoint written", "path", out, "arch", arch.Name, "tensors", set.Len())
			return nil
		},
	}
}
