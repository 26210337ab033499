package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/hlsexport"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/quantize"
)

func exportCmd() *cli.Command {
	var outDir, configHeader string
	return &cli.Command{
		Name:  "export",
		Usage: "Quantize a checkpoint and write weights.h/weights.cpp for the HLS kernels",
		Flags: flagsOf(checkpointFlags(), formatFlags(), runtimeFlags(), []cli.Flag{
			&cli.StringFlag{Name: "out-dir", Aliases: []string{"o"}, Usage: "output directory", Value: "hls", Destination: &outDir},
			&cli.StringFlag{Name: "config-header", Usage: "include this header for weight_t instead of declaring it (e.g. config.h)", Destination: &configHeader},
		}),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := currentFormat()
			if err != nil {
				return err
			}
			set, _, err := loadCheckpoint(ctx)
			if err != nil {
				return err
			}
			q, rep, err := quantize.Apply(ctx, set, f, quantize.WithWorkers(workers))
			if err != nil {
				return err
			}
			var opts []hlsexport.Option
			if configHeader != "" {
				opts = append(opts, hlsexport.WithConfigHeader(configHeader))
			}
			paths, err := hlsexport.WriteDir(outDir, q, f, opts...)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Info("hls weights written",
				"format", f.String(),
				"arrays", rep.Totals.Tensors,
				"header", paths[0],
				"source", paths[1],
			)
			return nil
		},
	}
}
