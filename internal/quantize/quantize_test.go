package quantize

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

func testSet(t *testing.T) *params.Set {
	t.Helper()
	s := params.NewSet()
	for _, tt := range []*params.Tensor{
		{Name: "conv1.weight", DType: params.F32, Shape: []int{2, 1, 1, 2}, F32: []float32{0, -9, 10, 7.96}},
		{Name: "conv1.bias", DType: params.F32, Shape: []int{2}, F32: []float32{0.013, -20}},
		{Name: "conv1.bn.running_var", DType: params.F32, Shape: []int{2}, F32: []float32{1.5, 100}},
		{Name: "conv1.bn.num_batches_tracked", DType: params.I64, Shape: []int{}, Raw: []byte{9, 0, 0, 0, 0, 0, 0, 0}},
		{Name: "fire2.squeeze.weight", DType: params.F32, Shape: []int{1, 2, 1, 1}, F32: []float32{0.03, 1.03125}},
	} {
		if err := s.Add(tt); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return s
}

func values(t *testing.T, s *params.Set, name string) []float32 {
	t.Helper()
	tt, ok := s.Get(name)
	if !ok {
		t.Fatalf("tensor %s missing", name)
	}
	return tt.F32
}

func TestApplyReferenceFormat(t *testing.T) {
	t.Parallel()
	src := testSet(t)
	f, _ := fixedpoint.New(8, 4)

	q, report, err := Apply(context.Background(), src, f)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := src.Compatible(q); err != nil {
		t.Fatalf("Compatible: %v", err)
	}
	if diff := cmp.Diff([]float32{0, -8, 7, 7}, values(t, q, "conv1.weight")); diff != "" {
		t.Fatalf("conv1.weight (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{0, 1}, values(t, q, "fire2.squeeze.weight")); diff != "" {
		t.Fatalf("fire2.squeeze.weight (-want +got):\n%s", diff)
	}
	if report.Totals.Tensors != 2 {
		t.Fatalf("expected 2 quantized tensors, got %d", report.Totals.Tensors)
	}
	if report.Totals.Saturated != 3 {
		t.Fatalf("expected 3 saturated elements, got %d", report.Totals.Saturated)
	}
	if got := report.Tensors[0].MaxAbsErr; math.Abs(got-3) > 1e-9 {
		t.Fatalf("MaxAbsErr: got %v, want 3", got)
	}
}

func TestApplyLeavesNonWeightsUntouched(t *testing.T) {
	t.Parallel()
	src := testSet(t)
	f, _ := fixedpoint.New(4, 2)

	q, _, err := Apply(context.Background(), src, f)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, name := range []string{"conv1.bias", "conv1.bn.running_var"} {
		a, b := values(t, src, name), values(t, q, name)
		for i := range a {
			if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
				t.Fatalf("%s[%d] changed: %v -> %v", name, i, a[i], b[i])
			}
		}
	}
	orig, _ := src.Get("conv1.bn.num_batches_tracked")
	got, _ := q.Get("conv1.bn.num_batches_tracked")
	if !bytes.Equal(orig.Raw, got.Raw) {
		t.Fatalf("raw tensor changed: %v -> %v", orig.Raw, got.Raw)
	}
	got.Raw[0] = 1
	if orig.Raw[0] != 9 {
		t.Fatal("raw tensor aliased source buffer")
	}
}

func TestApplyQuantizesF64AtFullPrecision(t *testing.T) {
	t.Parallel()
	w := &params.Tensor{Name: "conv1.weight", DType: params.F64, Shape: []int{3}}
	w.SetFloat64s([]float64{0.03125 + 1e-12, 0.1, -9})
	mean := &params.Tensor{Name: "conv1.bn.running_mean", DType: params.F64, Shape: []int{1}}
	mean.SetFloat64s([]float64{0.1})
	src := params.NewSet()
	for _, tt := range []*params.Tensor{w, mean} {
		if err := src.Add(tt); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	q, report, err := Apply(context.Background(), src, fixedpoint.Format{TotalBits: 8, IntBits: 4})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	gotW, _ := q.Get("conv1.weight")
	if diff := cmp.Diff([]float64{0.0625, 0.125, -8}, gotW.Float64s()); diff != "" {
		t.Fatalf("conv1.weight (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{0.0625, 0.125, -8}, gotW.F32); diff != "" {
		t.Fatalf("conv1.weight F32 view (-want +got):\n%s", diff)
	}
	gotMean, _ := q.Get("conv1.bn.running_mean")
	if !bytes.Equal(mean.Raw, gotMean.Raw) {
		t.Fatalf("running_mean bytes changed: %x -> %x", mean.Raw, gotMean.Raw)
	}
	if got := report.Tensors[0].Saturated; got != 1 {
		t.Fatalf("saturated: got %d, want 1", got)
	}
	if got := report.Tensors[0].MaxAbsErr; math.Abs(got-1) > 1e-12 {
		t.Fatalf("MaxAbsErr: got %v, want 1", got)
	}
}

func TestApplyDoesNotMutateSource(t *testing.T) {
	t.Parallel()
	src := testSet(t)
	before := src.Clone()
	f, _ := fixedpoint.New(3, 2)

	q, _, err := Apply(context.Background(), src, f, WithWorkers(1))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, name := range src.Names() {
		a, _ := before.Get(name)
		b, _ := src.Get(name)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("%s mutated (-before +after):\n%s", name, diff)
		}
	}
	w, _ := q.Get("conv1.weight")
	w.F32[1] = 123
	if values(t, src, "conv1.weight")[1] != -9 {
		t.Fatal("quantized set aliases source weights")
	}
}

func TestApplyIdempotent(t *testing.T) {
	t.Parallel()
	src := testSet(t)
	for _, f := range []fixedpoint.Format{
		{TotalBits: 8, IntBits: 4},
		{TotalBits: 6, IntBits: 2, Round: fixedpoint.RoundHalfUp, Saturation: fixedpoint.SaturateWord},
		{TotalBits: 16, IntBits: 5, Round: fixedpoint.RoundTrunc},
	} {
		once, _, err := Apply(context.Background(), src, f)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		twice, report, err := Apply(context.Background(), once, f)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		for _, name := range once.Names() {
			a, _ := once.Get(name)
			b, _ := twice.Get(name)
			if diff := cmp.Diff(a, b); diff != "" {
				t.Fatalf("%s: %s not idempotent (-once +twice):\n%s", f, name, diff)
			}
		}
		if report.Totals.RMSE != 0 || report.Totals.Saturated != 0 {
			t.Fatalf("%s: second pass reported error %+v", f, report.Totals)
		}
	}
}

func TestApplyRejectsInvalidFormat(t *testing.T) {
	t.Parallel()
	src := testSet(t)
	_, _, err := Apply(context.Background(), src, fixedpoint.Format{TotalBits: 4, IntBits: 6})
	if !errors.Is(err, fixedpoint.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestApplyCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, _ := fixedpoint.New(8, 4)
	if _, _, err := Apply(ctx, testSet(t), f); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReportJSONLosslessSQNR(t *testing.T) {
	t.Parallel()
	s := params.NewSet()
	_ = s.Add(&params.Tensor{Name: "w.weight", DType: params.F32, Shape: []int{2}, F32: []float32{0.5, -0.25}})
	f, _ := fixedpoint.New(8, 4)
	_, report, err := Apply(context.Background(), s, f)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !math.IsInf(float64(report.Totals.SQNR), 1) {
		t.Fatalf("expected +Inf SQNR for exact grid values, got %v", report.Totals.SQNR)
	}
	b, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Contains(b, []byte(`"sqnr_db":null`)) {
		t.Fatalf("expected null sqnr in %s", b)
	}
	if !bytes.Contains(b, []byte(`"total_bits":8`)) {
		t.Fatalf("expected format in %s", b)
	}
}
