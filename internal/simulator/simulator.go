// Package simulator predicts how a trained classifier behaves once its
// weights are stored in a fixed-point format: quantize, rebuild, evaluate.
package simulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/dataset"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/eval"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/model"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/quantize"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

// DefaultBatchSize matches the evaluation loader of the training scripts.
const DefaultBatchSize = 64

type Config struct {
	Params    *params.Set
	Format    fixedpoint.Format
	Arch      model.Arch
	Dataset   dataset.Source
	Workers   int
	BatchSize int
	// Limit evaluates only the first Limit examples when positive.
	Limit int
	// Progress is forwarded to the evaluator.
	Progress func(done int)
}

type Result struct {
	Format     fixedpoint.Format `json:"format"`
	Type       string            `json:"type"`
	Accuracy   float64           `json:"accuracy"`
	Loss       float64           `json:"loss"`
	Confidence float64           `json:"confidence"`
	Correct    int               `json:"correct"`
	Total      int               `json:"total"`
	Report     *quantize.Report  `json:"report,omitempty"`
	Quantized  *params.Set       `json:"-"`
	Eval       eval.Result       `json:"-"`
}

func (c Config) check() error {
	if c.Params == nil {
		return errors.New("simulator: no parameter set")
	}
	if c.Dataset == nil {
		return errors.New("simulator: no dataset")
	}
	return nil
}

func (c Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

// Run quantizes cfg.Params with cfg.Format, builds the model from the
// quantized copy, and evaluates it. The caller's set is left untouched.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("format", cfg.Format.String())

	q, report, err := quantize.Apply(ctx, cfg.Params, cfg.Format, quantize.WithWorkers(cfg.Workers))
	if err != nil {
		return nil, fmt.Errorf("quantize: %w", err)
	}
	log.Info("weights quantized",
		"tensors", report.Totals.Tensors,
		"saturated", report.Totals.Saturated,
		"rmse", report.Totals.RMSE,
	)
	res, err := evaluate(ctx, cfg, q)
	if err != nil {
		return nil, err
	}
	res.Format = cfg.Format
	res.Type = cfg.Format.String()
	res.Report = report
	res.Quantized = q
	log.Info("simulation finished", "accuracy", res.Accuracy, "examples", res.Total)
	return res, nil
}

// Baseline evaluates cfg.Params as stored, ignoring cfg.Format.
func Baseline(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	res, err := evaluate(ctx, cfg, cfg.Params)
	if err != nil {
		return nil, err
	}
	res.Type = "fp32"
	logger.FromContext(ctx).Info("baseline finished", "accuracy", res.Accuracy, "examples", res.Total)
	return res, nil
}

func evaluate(ctx context.Context, cfg Config, set *params.Set) (*Result, error) {
	m, err := model.New(cfg.Arch, set)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	c, h, w := cfg.Dataset.Shape()
	arch := cfg.Arch
	if c != arch.InChannels || h != arch.InputSize || w != arch.InputSize {
		return nil, fmt.Errorf("%w: dataset yields %dx%dx%d images, model expects %dx%dx%d",
			model.ErrShapeMismatch, c, h, w, arch.InChannels, arch.InputSize, arch.InputSize)
	}
	r, err := eval.Run(ctx, m, dataset.Batches(cfg.Dataset, cfg.batchSize(), cfg.Limit), eval.Options{
		Workers:  cfg.Workers,
		Progress: cfg.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return &Result{
		Accuracy:   r.Accuracy,
		Loss:       r.Loss,
		Confidence: r.Confidence,
		Correct:    r.Correct,
		Total:      r.Total,
		Eval:       r,
	}, nil
}

// SweepRow is one format's outcome relative to the baseline.
type SweepRow struct {
	*Result
	Delta float64 `json:"delta"`
}

type SweepResult struct {
	Baseline *Result    `json:"baseline"`
	Rows     []SweepRow `json:"rows"`
}

// Sweep evaluates the unquantized baseline and then every format in order.
// All formats are validated before any evaluation runs.
func Sweep(ctx context.Context, base Config, formats []fixedpoint.Format) (*SweepResult, error) {
	if len(formats) == 0 {
		return nil, errors.New("simulator: no formats to sweep")
	}
	for _, f := range formats {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	baseline, err := Baseline(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	out := &SweepResult{Baseline: baseline, Rows: make([]SweepRow, 0, len(formats))}
	for _, f := range formats {
		cfg := base
		cfg.Format = f
		res, err := Run(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		// drop the copy; sweeps can cover many formats
		res.Quantized = nil
		out.Rows = append(out.Rows, SweepRow{Result: res, Delta: res.Accuracy - baseline.Accuracy})
	}
	return out, nil
}
