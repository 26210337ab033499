// Package eval measures top-1 accuracy and cross-entropy of a classifier
// over a labelled dataset.
package eval

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/dataset"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/tensor"
)

// ErrEmptyDataset is returned when no example was evaluated.
var ErrEmptyDataset = errors.New("empty dataset")

// Predictor produces N x NumClasses logits for a batch. Implementations must
// be safe for concurrent Forward calls.
type Predictor interface {
	Forward(x tensor.Batch) ([]float32, error)
	NumClasses() int
}

type Options struct {
	// Workers bounds the goroutines sharing one batch; <= 0 selects GOMAXPROCS.
	Workers int
	// Progress, when set, is called after every batch with the running
	// number of evaluated examples.
	Progress func(done int)
}

type ClassResult struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

type Result struct {
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
	Loss     float64 `json:"loss"`
	// Confidence is the mean top-1 softmax probability.
	Confidence float64       `json:"confidence"`
	PerClass   []ClassResult `json:"per_class,omitempty"`
}

// Run evaluates p over every batch. Accuracy is 100*correct/total and Loss
// is the mean cross-entropy.
func Run(ctx context.Context, p Predictor, batches iter.Seq2[dataset.Batch, error], opts Options) (Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log := logger.FromContext(ctx)
	start := time.Now()

	k := p.NumClasses()
	res := Result{PerClass: make([]ClassResult, k)}
	var lossSum, confSum float64
	probs := make([]float32, k)
	for b, err := range batches {
		if err != nil {
			return Result{}, err
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		logits, err := forward(ctx, p, b.Inputs, workers)
		if err != nil {
			return Result{}, err
		}
		if len(logits) != b.Inputs.N*k {
			return Result{}, fmt.Errorf("eval: predictor returned %d logits for %d samples of %d classes", len(logits), b.Inputs.N, k)
		}
		for i, label := range b.Labels {
			if label < 0 || label >= k {
				return Result{}, fmt.Errorf("eval: label %d outside [0,%d)", label, k)
			}
			row := logits[i*k : (i+1)*k]
			res.PerClass[label].Total++
			if tensor.Argmax(row) == label {
				res.Correct++
				res.PerClass[label].Correct++
			}
			lossSum += tensor.CrossEntropy(row, label)
			copy(probs, row)
			tensor.Softmax(probs)
			confSum += float64(probs[tensor.Argmax(probs)])
		}
		res.Total += len(b.Labels)
		if opts.Progress != nil {
			opts.Progress(res.Total)
		}
	}
	if res.Total == 0 {
		return Result{}, ErrEmptyDataset
	}
	res.Accuracy = 100 * float64(res.Correct) / float64(res.Total)
	res.Loss = lossSum / float64(res.Total)
	res.Confidence = confSum / float64(res.Total)
	log.Debug("evaluation finished",
		"examples", res.Total,
		"accuracy", res.Accuracy,
		"loss", res.Loss,
		"elapsed", time.Since(start),
	)
	return res, nil
}

// forward splits x into contiguous sample ranges, one per worker, and
// stitches the logits back in order.
func forward(ctx context.Context, p Predictor, x tensor.Batch, workers int) ([]float32, error) {
	if x.N == 0 {
		return nil, nil
	}
	workers = min(workers, x.N)
	if workers == 1 {
		return p.Forward(x)
	}
	k := p.NumClasses()
	size := x.C * x.H * x.W
	chunk := (x.N + workers - 1) / workers
	out := make([]float32, x.N*k)

	g, ctx := errgroup.WithContext(ctx)
	for s := 0; s < x.N; s += chunk {
		e := min(s+chunk, x.N)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			part := tensor.Batch{N: e - s, C: x.C, H: x.H, W: x.W, Data: x.Data[s*size : e*size]}
			logits, err := p.Forward(part)
			if err != nil {
				return err
			}
			if len(logits) != part.N*k {
				return fmt.Errorf("eval: predictor returned %d logits for %d samples", len(logits), part.N)
			}
			copy(out[s*k:e*k], logits)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
