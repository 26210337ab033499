// Package params holds named parameter tensors in checkpoint order.
package params

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

var (
	ErrDuplicate    = errors.New("duplicate tensor name")
	ErrIncompatible = errors.New("incompatible parameter sets")
)

// DType is the safetensors dtype string (F32, F16, BF16, F64, I64, ...).
type DType string

const (
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
	F64  DType = "F64"
	I64  DType = "I64"
	I32  DType = "I32"
	U8   DType = "U8"
	Bool DType = "BOOL"
)

// IsFloat reports whether values of this dtype are decoded into float32.
func (d DType) IsFloat() bool {
	switch d {
	case F32, F16, BF16, F64:
		return true
	}
	return false
}

// Size returns the element width in bytes, or 0 for unknown dtypes.
func (d DType) Size() int {
	switch d {
	case F64, I64:
		return 8
	case F32, I32:
		return 4
	case F16, BF16:
		return 2
	case U8, Bool, "I8":
		return 1
	}
	return 0
}

// Tensor is one named parameter. Float tensors carry decoded values in F32
// and, when read from a checkpoint, their stored bytes in Raw; writers emit
// Raw verbatim when it is present. Non-float tensors only have Raw.
type Tensor struct {
	Name  string
	DType DType
	Shape []int
	F32   []float32
	Raw   []byte
}

func (t *Tensor) IsFloat() bool { return t.DType.IsFloat() }

// IsWeight follows the state-dict convention: a float tensor whose name
// contains "weight". Batch-norm gammas match; biases and running stats don't.
func (t *Tensor) IsWeight() bool {
	return t.IsFloat() && strings.Contains(t.Name, "weight")
}

// Elements is the product of the shape; a scalar has one element.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Float64s returns the values at storage precision. F64 tensors that carry
// their bytes are decoded from Raw; everything else is widened from F32.
func (t *Tensor) Float64s() []float64 {
	if t.DType == F64 && len(t.Raw) > 0 {
		out := make([]float64, len(t.Raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.Raw[i*8:]))
		}
		return out
	}
	out := make([]float64, len(t.F32))
	for i, v := range t.F32 {
		out[i] = float64(v)
	}
	return out
}

// SetFloat64s replaces the values. F64 tensors keep the exact bytes in Raw;
// for other dtypes Raw is cleared so the writer re-encodes F32.
func (t *Tensor) SetFloat64s(v []float64) {
	t.F32 = make([]float32, len(v))
	for i, x := range v {
		t.F32[i] = float32(x)
	}
	t.Raw = nil
	if t.DType == F64 {
		t.Raw = make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(t.Raw[i*8:], math.Float64bits(x))
		}
	}
}

// Clone returns a deep copy that shares no buffers with t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Name:  t.Name,
		DType: t.DType,
		Shape: slices.Clone(t.Shape),
		F32:   slices.Clone(t.F32),
		Raw:   slices.Clone(t.Raw),
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s %s%v", t.Name, t.DType, t.Shape)
}

// Set is an insertion-ordered mapping from name to tensor. It is not safe
// for concurrent mutation; concurrent reads are fine.
type Set struct {
	order []string
	byKey map[string]*Tensor
}

func NewSet() *Set {
	return &Set{byKey: make(map[string]*Tensor)}
}

// Add appends t. Names must be unique.
func (s *Set) Add(t *Tensor) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("params: tensor without name")
	}
	if _, ok := s.byKey[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.Name)
	}
	s.order = append(s.order, t.Name)
	s.byKey[t.Name] = t
	return nil
}

func (s *Set) Get(name string) (*Tensor, bool) {
	t, ok := s.byKey[name]
	return t, ok
}

// Names returns a copy of the names in insertion order.
func (s *Set) Names() []string { return slices.Clone(s.order) }

func (s *Set) Len() int { return len(s.order) }

// Tensors returns the tensors in insertion order.
func (s *Set) Tensors() []*Tensor {
	out := make([]*Tensor, len(s.order))
	for i, name := range s.order {
		out[i] = s.byKey[name]
	}
	return out
}

// Clone deep-copies every tensor.
func (s *Set) Clone() *Set {
	out := &Set{
		order: slices.Clone(s.order),
		byKey: make(map[string]*Tensor, len(s.byKey)),
	}
	for name, t := range s.byKey {
		out.byKey[name] = t.Clone()
	}
	return out
}

// Compatible checks that other has the same names, order, dtypes and shapes.
func (s *Set) Compatible(other *Set) error {
	if s.Len() != other.Len() {
		return fmt.Errorf("%w: %d tensors vs %d", ErrIncompatible, s.Len(), other.Len())
	}
	for i, name := range s.order {
		if other.order[i] != name {
			return fmt.Errorf("%w: position %d is %s vs %s", ErrIncompatible, i, name, other.order[i])
		}
		a, b := s.byKey[name], other.byKey[name]
		if a.DType != b.DType {
			return fmt.Errorf("%w: %s dtype %s vs %s", ErrIncompatible, name, a.DType, b.DType)
		}
		if !slices.Equal(a.Shape, b.Shape) {
			return fmt.Errorf("%w: %s shape %v vs %v", ErrIncompatible, name, a.Shape, b.Shape)
		}
	}
	return nil
}

// WeightCount returns the number of tensors IsWeight selects.
func (s *Set) WeightCount() int {
	n := 0
	for _, t := range s.byKey {
		if t.IsWeight() {
			n++
		}
	}
	return n
}
