package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/dataset"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/model"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/safetensors"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/simulator"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

func currentFormat() (fixedpoint.Format, error) {
	return formatFrom(totalBits, intBits, roundMode, saturation)
}

func formatFrom(total, intB int, round, sat string) (fixedpoint.Format, error) {
	f := fixedpoint.Format{TotalBits: total, IntBits: intB}
	var err error
	if f.Round, err = fixedpoint.ParseRoundMode(round); err != nil {
		return fixedpoint.Format{}, err
	}
	if f.Saturation, err = fixedpoint.ParseSaturation(sat); err != nil {
		return fixedpoint.Format{}, err
	}
	return f, f.Validate()
}

func loadCheckpoint(ctx context.Context) (*params.Set, map[string]string, error) {
	if checkpointPath == "" {
		return nil, nil, fmt.Errorf("--checkpoint is required unless %s is set", envCheckpoint)
	}
	start := time.Now()
	set, meta, err := safetensors.Load(checkpointPath)
	if err != nil {
		return nil, nil, err
	}
	logger.FromContext(ctx).Info("checkpoint loaded",
		"path", checkpointPath,
		"tensors", set.Len(),
		"weights", set.WeightCount(),
		"elapsed", time.Since(start),
	)
	return set, meta, nil
}

func loadArch() (model.Arch, error) {
	if archPath == "" {
		return model.SqueezeNet10(), nil
	}
	return model.LoadArch(archPath)
}

func openDataset(ctx context.Context, arch model.Arch) (dataset.Source, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("--data is required unless %s is set", envData)
	}
	paths, err := dataset.CIFARSplitFiles(dataDir, dataSplit)
	if err != nil {
		return nil, err
	}
	side := resize
	if side == 0 {
		side = arch.InputSize
	}
	src, err := dataset.OpenCIFAR(paths, dataset.WithResize(side))
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("dataset opened", "dir", dataDir, "split", dataSplit, "images", src.Len(), "size", side)
	return src, nil
}

// simConfig loads everything an evaluation needs. The format is left zero.
func simConfig(ctx context.Context) (simulator.Config, error) {
	arch, err := loadArch()
	if err != nil {
		return simulator.Config{}, err
	}
	set, _, err := loadCheckpoint(ctx)
	if err != nil {
		return simulator.Config{}, err
	}
	src, err := openDataset(ctx, arch)
	if err != nil {
		return simulator.Config{}, err
	}
	if batchSize < 1 {
		return simulator.Config{}, errors.New("--batch-size must be positive")
	}
	return simulator.Config{
		Params:    set,
		Arch:      arch,
		Dataset:   src,
		Workers:   workers,
		BatchSize: batchSize,
		Limit:     limit,
		Progress:  progress(ctx, dataset.Count(src, limit)),
	}, nil
}

// progress logs roughly every tenth of a run at debug level. Sweeps reuse
// the callback, so a falling count starts over.
func progress(ctx context.Context, total int) func(done int) {
	log := logger.FromContext(ctx)
	step := max(total/10, 1)
	next, last := step, 0
	return func(done int) {
		if done < last {
			next = step
		}
		last = done
		if done >= next || done == total {
			log.Debug("evaluating", "done", done, "total", total)
			for next <= done {
				next += step
			}
		}
	}
}
