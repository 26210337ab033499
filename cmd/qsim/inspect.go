package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/model"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/report"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:   "inspect",
		Usage:  "List the tensors of a checkpoint and check them against the architecture",
		Flags:  checkpointFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			set, meta, err := loadCheckpoint(ctx)
			if err != nil {
				return err
			}
			arch, err := loadArch()
			if err != nil {
				return err
			}
			for _, k := range slices.Sorted(maps.Keys(meta)) {
				fmt.Printf("%s: %s\n", k, meta[k])
			}
			if len(meta) > 0 {
				fmt.Println()
			}
			report.Tensors(os.Stdout, set)

			if _, err := model.New(arch, set); err != nil {
				logger.FromContext(ctx).Warn("checkpoint does not match architecture", "arch", arch.Name, "error", err)
				return nil
			}
			fmt.Printf("\ncheckpoint matches %s (%d weight tensors)\n", arch.Name, set.WeightCount())
			return nil
		},
	}
}
