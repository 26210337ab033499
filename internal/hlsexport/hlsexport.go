// Package hlsexport renders a quantized parameter set as C++ weight arrays
// for the Vitis HLS kernels.
//
// Convolution kernels are reordered from OIHW to [kh][kw][ic][oc], the
// layout the HLS controller copies into its on-chip buffers; 1x1 kernels
// are declared as [ic][oc]. Other weight tensors keep their order.
package hlsexport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

const (
	HeaderFile = "weights.h"
	SourceFile = "weights.cpp"

	valuesPerLine = 8
)

// ErrOffGrid is returned when a weight is not representable in the target
// format, which usually means the set was never quantized.
var ErrOffGrid = errors.New("weight not on the fixed-point grid")

// Array is one exported C array.
type Array struct {
	Name   string
	Tensor string
	Shape  []int
	Values []float32
}

func (a Array) Len() int { return len(a.Values) }

// ArrayName maps "fire2.squeeze.weight" to "fire2_squeeze_weights_flat".
func ArrayName(tensor string) string {
	base := strings.TrimSuffix(tensor, ".weight")
	if base == tensor {
		base = strings.ReplaceAll(tensor, "weight", "weights")
		return strings.ReplaceAll(base, ".", "_") + "_flat"
	}
	return strings.ReplaceAll(base, ".", "_") + "_weights_flat"
}

// HWIO flattens an OIHW kernel into [kh][kw][ic][oc] order.
func HWIO(t *params.Tensor) ([]float32, []int, error) {
	if len(t.Shape) != 4 {
		return nil, nil, fmt.Errorf("%s: want a 4-d kernel, got %v", t.Name, t.Shape)
	}
	o, in, kh, kw := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if len(t.F32) != o*in*kh*kw {
		return nil, nil, fmt.Errorf("%s: %d values for %v", t.Name, len(t.F32), t.Shape)
	}
	out := make([]float32, 0, len(t.F32))
	for y := range kh {
		for x := range kw {
			for c := range in {
				for k := range o {
					out = append(out, t.F32[((k*in+c)*kh+y)*kw+x])
				}
			}
		}
	}
	if kh == 1 && kw == 1 {
		return out, []int{in, o}, nil
	}
	return out, []int{kh, kw, in, o}, nil
}

// Arrays collects every weight tensor of set in checkpoint order and checks
// each value against f.
func Arrays(set *params.Set, f fixedpoint.Format) ([]Array, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out []Array
	for _, t := range set.Tensors() {
		if !t.IsWeight() {
			continue
		}
		values, shape := t.F32, t.Shape
		if len(t.Shape) == 4 {
			var err error
			if values, shape, err = HWIO(t); err != nil {
				return nil, err
			}
		}
		for i, v := range values {
			if math.IsNaN(float64(v)) || f.Quantize(v) != v {
				return nil, fmt.Errorf("%w: %s[%d] = %v is not an %s value", ErrOffGrid, t.Name, i, v, f)
			}
		}
		out = append(out, Array{Name: ArrayName(t.Name), Tensor: t.Name, Shape: shape, Values: values})
	}
	if len(out) == 0 {
		return nil, errors.New("hlsexport: set has no weight tensors")
	}
	return out, nil
}

// TypeName is the ap_fixed instantiation matching f.
func TypeName(f fixedpoint.Format) string {
	q := "AP_RND_CONV"
	switch f.Round {
	case fixedpoint.RoundHalfUp:
		q = "AP_RND"
	case fixedpoint.RoundTrunc:
		q = "AP_TRN"
	}
	return fmt.Sprintf("ap_fixed<%d, %d, %s, AP_SAT>", f.TotalBits, f.IntBits, q)
}

type options struct {
	configHeader string
}

// Option tunes the generated header.
type Option func(*options)

// WithConfigHeader includes name instead of declaring weight_t, for projects
// whose config header already owns the typedef.
func WithConfigHeader(name string) Option {
	return func(o *options) { o.configHeader = name }
}

// WriteHeader writes the extern declarations. By default the header is
// self-contained and typedefs weight_t to TypeName(f).
func WriteHeader(w io.Writer, f fixedpoint.Format, arrays []Array, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "// Generated by qsim for %s. Do not edit.\n", f)
	if o.configHeader != "" {
		fmt.Fprintf(bw, "#pragma once\n\n#include \"%s\"\n\n", o.configHeader)
		fmt.Fprintf(bw, "// weight_t must be %s.\n\n", TypeName(f))
	} else {
		fmt.Fprint(bw, "#pragma once\n\n#include <ap_fixed.h>\n\n")
		fmt.Fprintf(bw, "typedef %s weight_t;\n\n", TypeName(f))
	}
	for _, a := range arrays {
		fmt.Fprintf(bw, "extern const weight_t %s[%d]; // %s %s\n", a.Name, a.Len(), a.Tensor, dims(a.Shape))
	}
	return bw.Flush()
}

func WriteSource(w io.Writer, arrays []Array) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#include \"%s\"\n", HeaderFile)
	for _, a := range arrays {
		fmt.Fprintf(bw, "\nconst weight_t %s[%d] = {\n", a.Name, a.Len())
		for i, v := range a.Values {
			if i%valuesPerLine == 0 {
				bw.WriteString("    ")
			}
			bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
			switch {
			case i == len(a.Values)-1:
				bw.WriteString("\n")
			case i%valuesPerLine == valuesPerLine-1:
				bw.WriteString(",\n")
			default:
				bw.WriteString(", ")
			}
		}
		bw.WriteString("};\n")
	}
	return bw.Flush()
}

// WriteDir writes weights.h and weights.cpp into dir and returns their paths.
func WriteDir(dir string, set *params.Set, f fixedpoint.Format, opts ...Option) ([]string, error) {
	arrays, err := Arrays(set, f)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	header := filepath.Join(dir, HeaderFile)
	source := filepath.Join(dir, SourceFile)
	if err := writeFile(header, func(w io.Writer) error { return WriteHeader(w, f, arrays, opts...) }); err != nil {
		return nil, err
	}
	if err := writeFile(source, func(w io.Writer) error { return WriteSource(w, arrays) }); err != nil {
		return nil, err
	}
	return []string{header, source}, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func dims(shape []int) string {
	var b strings.Builder
	for _, d := range shape {
		fmt.Fprintf(&b, "[%d]", d)
	}
	return b.String()
}
