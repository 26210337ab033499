package eval

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/dataset"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/tensor"
)

// firstPixel predicts the class stored in each image's first pixel.
type firstPixel struct {
	classes int
	calls   atomic.Int64
}

func (f *firstPixel) NumClasses() int { return f.classes }

func (f *firstPixel) Forward(x tensor.Batch) ([]float32, error) {
	f.calls.Add(1)
	size := x.C * x.H * x.W
	out := make([]float32, x.N*f.classes)
	for i := range x.N {
		out[i*f.classes+int(x.Data[i*size])] = 10
	}
	return out, nil
}

type failing struct{}

func (failing) NumClasses() int { return 2 }
func (failing) Forward(tensor.Batch) ([]float32, error) {
	return nil, errors.New("boom")
}

func source(t *testing.T, preds, labels []int) *dataset.Memory {
	t.Helper()
	m := dataset.NewMemory(1, 1, 2, 3)
	for i := range preds {
		if err := m.Add([]float32{float32(preds[i]), 0}, labels[i]); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return m
}

func TestRunAccuracy(t *testing.T) {
	t.Parallel()
	src := source(t,
		[]int{0, 1, 2, 2, 1, 0, 0, 2},
		[]int{0, 1, 2, 1, 1, 2, 0, 2},
	)
	p := &firstPixel{classes: 3}
	var progress []int
	res, err := Run(context.Background(), p, dataset.Batches(src, 3, 0), Options{
		Workers:  2,
		Progress: func(done int) { progress = append(progress, done) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Correct != 6 || res.Total != 8 {
		t.Fatalf("expected 6/8, got %d/%d", res.Correct, res.Total)
	}
	if res.Accuracy != 75 {
		t.Fatalf("Accuracy: got %v, want 75", res.Accuracy)
	}
	if res.PerClass[1].Total != 3 || res.PerClass[1].Correct != 2 {
		t.Fatalf("class 1: got %+v", res.PerClass[1])
	}
	if len(progress) != 3 || progress[2] != 8 {
		t.Fatalf("progress: got %v", progress)
	}
	// correct rows have loss log(1+2e^-10); wrong rows 10+log(1+2e^-10)
	small := math.Log(1 + 2*math.Exp(-10))
	wantLoss := (6*small + 2*(10+small)) / 8
	if math.Abs(res.Loss-wantLoss) > 1e-4 {
		t.Fatalf("Loss: got %v, want %v", res.Loss, wantLoss)
	}
	if want := 1 / (1 + 2*math.Exp(-10)); math.Abs(res.Confidence-want) > 1e-5 {
		t.Fatalf("Confidence: got %v, want %v", res.Confidence, want)
	}
}

func TestRunLimit(t *testing.T) {
	t.Parallel()
	src := source(t, []int{0, 1, 1, 1}, []int{0, 1, 0, 0})
	res, err := Run(context.Background(), &firstPixel{classes: 3}, dataset.Batches(src, 8, 2), Options{Workers: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 2 || res.Accuracy != 100 {
		t.Fatalf("expected 2 examples at 100%%, got %d at %v", res.Total, res.Accuracy)
	}
}

func TestRunEmptyDataset(t *testing.T) {
	t.Parallel()
	src := dataset.NewMemory(1, 1, 2, 3)
	_, err := Run(context.Background(), &firstPixel{classes: 3}, dataset.Batches(src, 4, 0), Options{})
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	t.Parallel()
	src := source(t, []int{0, 1, 0, 1}, []int{0, 1, 0, 1})
	if _, err := Run(context.Background(), failing{}, dataset.Batches(src, 4, 0), Options{Workers: 2}); err == nil {
		t.Fatal("expected predictor error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, &firstPixel{classes: 3}, dataset.Batches(src, 4, 0), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestForwardSplitsAcrossWorkers(t *testing.T) {
	t.Parallel()
	src := source(t, []int{2, 1, 0, 2, 1}, []int{2, 1, 0, 2, 1})
	p := &firstPixel{classes: 3}
	res, err := Run(context.Background(), p, dataset.Batches(src, 5, 0), Options{Workers: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accuracy != 100 {
		t.Fatalf("Accuracy: got %v, want 100", res.Accuracy)
	}
	if got := p.calls.Load(); got != 3 {
		t.Fatalf("expected 3 Forward calls, got %d", got)
	}
}
