package tensor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-5)

func TestConv2DMatchesHandComputed(t *testing.T) {
	t.Parallel()
	// 1x1x3x3 input, one 2x2 kernel of ones, stride 1, no padding.
	x, _ := BatchFromData(1, 1, 3, 3, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	out, err := Conv2D(x, []float32{1, 1, 1, 1}, []float32{0.5}, ConvParams{OutChannels: 1, KernelH: 2, KernelW: 2, Stride: 1})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	if diff := cmp.Diff([]int{1, 1, 2, 2}, out.Shape()); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{12.5, 16.5, 24.5, 28.5}, out.Data); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
}

func TestConv2DPaddingAndStride(t *testing.T) {
	t.Parallel()
	x, _ := BatchFromData(1, 1, 3, 3, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	// 3x3 center tap only: identity with padding 1, subsampled by stride 2.
	kernel := []float32{0, 0, 0, 0, 1, 0, 0, 0, 0}
	out, err := Conv2D(x, kernel, nil, ConvParams{OutChannels: 1, KernelH: 3, KernelW: 3, Stride: 2, Padding: 1})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 3, 7, 9}, out.Data); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
}

func TestConv2DPointwiseMultiChannel(t *testing.T) {
	t.Parallel()
	// N=2, C=2, 1x2 spatial.
	x, _ := BatchFromData(2, 2, 1, 2, []float32{
		1, 2, 10, 20,
		3, 4, 30, 40,
	})
	// out0 = in0 + in1, out1 = 2*in0 - in1
	kernel := []float32{1, 1, 2, -1}
	out, err := Conv2D(x, kernel, nil, ConvParams{OutChannels: 2, KernelH: 1, KernelW: 1, Stride: 1})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	want := []float32{
		11, 22, -8, -16,
		33, 44, -24, -32,
	}
	if diff := cmp.Diff(want, out.Data); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
}

func TestConv2DRejectsBadKernel(t *testing.T) {
	t.Parallel()
	x := NewBatch(1, 2, 4, 4)
	if _, err := Conv2D(x, make([]float32, 9), nil, ConvParams{OutChannels: 1, KernelH: 3, KernelW: 3, Stride: 1}); err == nil {
		t.Fatal("expected error for kernel/channel mismatch")
	}
}

func TestPoolOutputSizeCeilMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, k, s int
		ceil     bool
		want     int
	}{
		{112, 3, 2, true, 56},
		{56, 3, 2, true, 28},
		{28, 3, 2, true, 14},
		{6, 3, 2, true, 3},
		{6, 3, 2, false, 2},
		{5, 2, 2, true, 3},
		{4, 2, 2, true, 2},
	}
	for _, tt := range tests {
		if got := PoolOutputSize(tt.in, tt.k, tt.s, tt.ceil); got != tt.want {
			t.Errorf("PoolOutputSize(%d,%d,%d,%v): got %d, want %d", tt.in, tt.k, tt.s, tt.ceil, got, tt.want)
		}
	}
}

func TestMaxPool2DCeilMode(t *testing.T) {
	t.Parallel()
	x, _ := BatchFromData(1, 1, 3, 3, []float32{
		1, 2, 3,
		4, 9, 6,
		7, 8, -1,
	})
	out, err := MaxPool2D(x, 2, 2, true)
	if err != nil {
		t.Fatalf("MaxPool2D: %v", err)
	}
	if diff := cmp.Diff([]float32{9, 6, 8, -1}, out.Data); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
	floor, err := MaxPool2D(x, 2, 2, false)
	if err != nil {
		t.Fatalf("MaxPool2D: %v", err)
	}
	if diff := cmp.Diff([]float32{9}, floor.Data); diff != "" {
		t.Fatalf("floor mode (-want +got):\n%s", diff)
	}
}

func TestGlobalAvgPool(t *testing.T) {
	t.Parallel()
	x, _ := BatchFromData(1, 2, 2, 2, []float32{1, 2, 3, 4, -1, -1, 1, 5})
	out := GlobalAvgPool(x)
	if diff := cmp.Diff([]float32{2.5, 1}, out.Data); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
}

func TestConcatChannels(t *testing.T) {
	t.Parallel()
	a, _ := BatchFromData(2, 1, 1, 1, []float32{1, 2})
	b, _ := BatchFromData(2, 2, 1, 1, []float32{10, 11, 20, 21})
	out := Concat(a, b)
	if diff := cmp.Diff([]float32{1, 10, 11, 2, 20, 21}, out.Data); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
}

func TestBatchNormAndReLU(t *testing.T) {
	t.Parallel()
	x, _ := BatchFromData(1, 2, 1, 2, []float32{1, 3, 0, -4})
	err := BatchNorm(x, []float32{2, 1}, []float32{0, 1}, []float32{2, 0}, []float32{1, 4}, 0)
	if err != nil {
		t.Fatalf("BatchNorm: %v", err)
	}
	if diff := cmp.Diff([]float32{-2, 2, 1, -1}, x.Data, approx); diff != "" {
		t.Fatalf("batchnorm (-want +got):\n%s", diff)
	}
	ReLU(x.Data)
	if diff := cmp.Diff([]float32{0, 2, 1, 0}, x.Data, approx); diff != "" {
		t.Fatalf("relu (-want +got):\n%s", diff)
	}
}

func TestSoftmaxFamily(t *testing.T) {
	t.Parallel()
	logits := []float32{1, 2, 3}
	if got := Argmax(logits); got != 2 {
		t.Fatalf("Argmax: got %d, want 2", got)
	}
	if got := Argmax([]float32{5, 5}); got != 0 {
		t.Fatalf("Argmax tie: got %d, want 0", got)
	}

	probs := append([]float32(nil), logits...)
	Softmax(probs)
	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("softmax sums to %v", sum)
	}
	want := -math.Log(float64(probs[2]))
	if ce := CrossEntropy(logits, 2); math.Abs(ce-want) > 1e-6 {
		t.Fatalf("CrossEntropy: got %v, want %v", ce, want)
	}
	if ce := CrossEntropy(logits, 7); !math.IsInf(ce, 1) {
		t.Fatalf("CrossEntropy out of range: got %v", ce)
	}
}
