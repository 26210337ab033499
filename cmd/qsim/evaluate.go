package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/report"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/simulator"
)

func evaluateCmd() *cli.Command {
	var (
		fp32     bool
		jsonPath string
	)
	return &cli.Command{
		Name:  "evaluate",
		Usage: "Measure top-1 accuracy with weights stored in a fixed-point format",
		Flags: flagsOf(checkpointFlags(), formatFlags(), dataFlags(), runtimeFlags(), []cli.Flag{
			&cli.BoolFlag{Name: "fp32", Usage: "evaluate the stored weights without quantization", Destination: &fp32},
			&cli.StringFlag{Name: "json", Usage: "write a JSON report here (- for stdout)", Destination: &jsonPath},
		}),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// validate the format before loading anything
			format, err := currentFormat()
			if err != nil && !fp32 {
				return err
			}
			cfg, err := simConfig(ctx)
			if err != nil {
				return err
			}
			var res *simulator.Result
			if fp32 {
				res, err = simulator.Baseline(ctx, cfg)
			} else {
				cfg.Format = format
				res, err = simulator.Run(ctx, cfg)
			}
			if err != nil {
				return err
			}
			res.Quantized = nil
			if jsonPath != "" {
				if _, err := writeDocument(ctx, jsonPath, "evaluate", res); err != nil {
					return err
				}
			}
			if jsonPath != "-" {
				report.Simulation(os.Stdout, res)
			}
			return nil
		},
	}
}
