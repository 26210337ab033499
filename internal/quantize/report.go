package quantize

import (
	"math"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

// Decibels is a signal-to-noise ratio. A lossless tensor has +Inf, which
// encodes as JSON null.
type Decibels float64

func (d Decibels) MarshalJSON() ([]byte, error) {
	v := float64(d)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'f', 3, 64), nil
}

// TensorStats describes what quantization did to one tensor.
type TensorStats struct {
	Name       string   `json:"name"`
	Shape      []int    `json:"shape"`
	Elements   int      `json:"elements"`
	Quantized  bool     `json:"quantized"`
	Saturated  int      `json:"saturated"`
	MaxAbsErr  float64  `json:"max_abs_err"`
	MeanAbsErr float64  `json:"mean_abs_err"`
	RMSE       float64  `json:"rmse"`
	SQNR       Decibels `json:"sqnr_db"`
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`

	signal float64
	noise  float64
}

// Totals aggregates the quantized tensors only.
type Totals struct {
	Tensors   int      `json:"tensors"`
	Elements  int      `json:"elements"`
	Saturated int      `json:"saturated"`
	MaxAbsErr float64  `json:"max_abs_err"`
	RMSE      float64  `json:"rmse"`
	SQNR      Decibels `json:"sqnr_db"`
}

// Report lists per-tensor statistics in set order.
type Report struct {
	Format  fixedpoint.Format `json:"format"`
	Type    string            `json:"type"`
	Tensors []TensorStats     `json:"tensors"`
	Totals  Totals            `json:"totals"`
}

// SaturationRate is the fraction of quantized elements that hit a clamp bound.
func (r *Report) SaturationRate() float64 {
	if r.Totals.Elements == 0 {
		return 0
	}
	return float64(r.Totals.Saturated) / float64(r.Totals.Elements)
}

func measure(name string, shape []int, orig, q []float64, saturated int) TensorStats {
	n := len(q)
	diff := slices.Clone(q)
	floats.Sub(diff, orig)

	s := TensorStats{
		Name:      name,
		Shape:     slices.Clone(shape),
		Elements:  n,
		Quantized: true,
		Saturated: saturated,
	}
	if n == 0 {
		s.SQNR = Decibels(math.Inf(1))
		return s
	}
	s.Min = floats.Min(orig)
	s.Max = floats.Max(orig)
	s.MaxAbsErr = floats.Norm(diff, math.Inf(1))
	abs := make([]float64, n)
	for i, d := range diff {
		abs[i] = math.Abs(d)
	}
	s.MeanAbsErr = stat.Mean(abs, nil)
	s.signal = floats.Dot(orig, orig)
	s.noise = floats.Dot(diff, diff)
	s.RMSE = math.Sqrt(s.noise / float64(n))
	s.SQNR = sqnr(s.signal, s.noise)
	return s
}

func sqnr(signal, noise float64) Decibels {
	if noise == 0 {
		return Decibels(math.Inf(1))
	}
	return Decibels(10 * math.Log10(signal/noise))
}

func newReport(f fixedpoint.Format, stats []TensorStats) *Report {
	r := &Report{Format: f, Type: f.String(), Tensors: stats}
	var signal, noise float64
	for _, s := range stats {
		if !s.Quantized {
			continue
		}
		r.Totals.Tensors++
		r.Totals.Elements += s.Elements
		r.Totals.Saturated += s.Saturated
		r.Totals.MaxAbsErr = math.Max(r.Totals.MaxAbsErr, s.MaxAbsErr)
		signal += s.signal
		noise += s.noise
	}
	if r.Totals.Elements > 0 {
		r.Totals.RMSE = math.Sqrt(noise / float64(r.Totals.Elements))
	}
	r.Totals.SQNR = sqnr(signal, noise)
	return r
}
