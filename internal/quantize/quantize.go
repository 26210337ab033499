// Package quantize applies a fixed-point format to every weight tensor of a
// parameter set and measures the error it introduces.
package quantize

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

type options struct {
	workers int
}

// Option tunes Apply.
type Option func(*options)

// WithWorkers bounds the number of tensors transformed concurrently.
// Values below one select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Apply returns a new set in which every weight tensor has been passed
// through f. Other tensors are deep-copied unchanged, stored bytes
// included. src is never mutated and the result shares no buffers with it.
func Apply(ctx context.Context, src *params.Set, f fixedpoint.Format, opts ...Option) (*params.Set, *Report, error) {
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	if src == nil {
		return nil, nil, fmt.Errorf("quantize: nil parameter set")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.GOMAXPROCS(0)
	}

	log := logger.FromContext(ctx)
	start := time.Now()

	tensors := src.Tensors()
	out := make([]*params.Tensor, len(tensors))
	stats := make([]TensorStats, len(tensors))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, t := range tensors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !t.IsWeight() {
				out[i] = t.Clone()
				stats[i] = TensorStats{Name: t.Name, Shape: slices.Clone(t.Shape), Elements: t.Elements()}
				return nil
			}
			q := &params.Tensor{Name: t.Name, DType: t.DType, Shape: slices.Clone(t.Shape)}
			var orig, vals []float64
			var saturated int
			if t.DType == params.F64 {
				// F64 weights round at their own precision
				orig = t.Float64s()
				vals = make([]float64, len(orig))
				saturated = f.QuantizeSlice64(vals, orig)
				q.SetFloat64s(vals)
			} else {
				q.F32 = make([]float32, len(t.F32))
				saturated = f.QuantizeSlice(q.F32, t.F32)
				orig = widen(t.F32)
				vals = widen(q.F32)
			}
			if len(orig) != t.Elements() {
				return fmt.Errorf("quantize: tensor %s has %d values for shape %v", t.Name, len(orig), t.Shape)
			}
			out[i] = q
			stats[i] = measure(t.Name, t.Shape, orig, vals, saturated)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	dst := params.NewSet()
	for _, t := range out {
		if err := dst.Add(t); err != nil {
			return nil, nil, err
		}
	}
	report := newReport(f, stats)
	log.Debug("quantized parameter set",
		"format", f.String(),
		"tensors", dst.Len(),
		"weights", report.Totals.Tensors,
		"saturated", report.Totals.Saturated,
		"elapsed", time.Since(start),
	)
	return dst, report, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
