package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/quantize"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/report"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/safetensors"
)

func quantizeCmd() *cli.Command {
	var (
		out      string
		jsonPath string
	)
	return &cli.Command{
		Name:  "quantize",
		Usage: "Quantize the weights of a checkpoint and report the error per tensor",
		Flags: flagsOf(checkpointFlags(), formatFlags(), runtimeFlags(), []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write the quantized checkpoint here", Destination: &out},
			&cli.StringFlag{Name: "json", Usage: "write a JSON report here (- for stdout)", Destination: &jsonPath},
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
			logger.FromContext(ctx).Info("weights quantized",
				"format", f.String(),
				"tensors", rep.Totals.Tensors,
				"saturated", rep.Totals.Saturated,
			)

			runID := uuid.NewString()
			if jsonPath != "" {
				if runID, err = writeDocument(ctx, jsonPath, "quantize", rep); err != nil {
					return err
				}
			}
			if jsonPath != "-" {
				report.Quantization(os.Stdout, rep)
			}
			if out != "" {
				if err := safetensors.WriteFile(out, q, formatMetadata(f, runID)); err != nil {
					return err
				}
				logger.FromContext(ctx).Info("quantized checkpoint written", "path", out)
			}
			return nil
		},
	}
}
