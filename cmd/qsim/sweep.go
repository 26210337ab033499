package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/report"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/simulator"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

func sweepCmd() *cli.Command {
	var (
		formats  []string
		intRange string
		jsonPath string
	)
	return &cli.Command{
		Name:  "sweep",
		Usage: "Compare accuracy across fixed-point formats against the fp32 baseline",
		Flags: flagsOf(checkpointFlags(), formatFlags(), dataFlags(), runtimeFlags(), []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "formats",
				Usage:       "formats as total,int (repeatable, e.g. --formats 16,8 --formats 8,4)",
				Destination: &formats,
			},
			&cli.StringFlag{
				Name:        "int-range",
				Usage:       "sweep int bits lo-hi at --total-bits (e.g. 1-8)",
				Destination: &intRange,
			},
			&cli.StringFlag{Name: "json", Usage: "write a JSON report here (- for stdout)", Destination: &jsonPath},
		}),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			list, err := sweepFormats(formats, intRange, totalBits, intBits, roundMode, saturation)
			if err != nil {
				return err
			}
			cfg, err := simConfig(ctx)
			if err != nil {
				return err
			}
			res, err := simulator.Sweep(ctx, cfg, list)
			if err != nil {
				return err
			}
			if jsonPath != "" {
				if _, err := writeDocument(ctx, jsonPath, "sweep", res); err != nil {
					return err
				}
			}
			if jsonPath != "-" {
				report.Sweep(os.Stdout, res)
			}
			return nil
		},
	}
}

// sweepFormats expands --formats and --int-range into a validated list.
// With neither set the current --total-bits/--int-bits pair is used.
func sweepFormats(specs []string, intRange string, total, intB int, round, sat string) ([]fixedpoint.Format, error) {
	var out []fixedpoint.Format
	for _, spec := range specs {
		f, err := fixedpoint.Parse(spec)
		if err != nil {
			return nil, err
		}
		// Parse only reads the widths
		if f, err = formatFrom(f.TotalBits, f.IntBits, round, sat); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if intRange != "" {
		lo, hi, err := parseRange(intRange)
		if err != nil {
			return nil, err
		}
		for i := lo; i <= hi; i++ {
			f, err := formatFrom(total, i, round, sat)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		f, err := formatFrom(total, intB, round, sat)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// parseRange reads "lo-hi" or a single number.
func parseRange(s string) (int, int, error) {
	a, b, found := strings.Cut(strings.TrimSpace(s), "-")
	lo, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("range %q: %w", s, err)
	}
	hi := lo
	if found {
		if hi, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
			return 0, 0, fmt.Errorf("range %q: %w", s, err)
		}
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("range %q: upper bound below lower bound", s)
	}
	return lo, hi, nil
}
