// Package model builds an executable CNN from an architecture and a
// parameter set and runs its forward pass on the CPU.
package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/tensor"
)

var (
	ErrMissingParam  = errors.New("missing parameter")
	ErrShapeMismatch = errors.New("parameter shape mismatch")
)

var bnSuffixes = []string{".bn.weight", ".bn.bias", ".bn.running_mean", ".bn.running_var"}

type batchNorm struct {
	gamma, beta, mean, variance []float32
}

type conv struct {
	spec   ConvSpec
	weight []float32
	bias   []float32
	bn     *batchNorm
}

type stage struct {
	kind  LayerKind
	layer Layer
	convs []*conv
}

// Model is an immutable network. Forward allocates its own activations, so
// one Model may serve concurrent callers.
type Model struct {
	arch   Arch
	stages []stage
	eps    float32
}

// New binds set to arch. Every kernel must be present with its OIHW shape;
// biases and batch-norm tensors are optional but must match when present.
// Float tensors the architecture does not consume are rejected. The model
// reads set's buffers in place, so set must not be mutated afterwards.
func New(arch Arch, set *params.Set) (*Model, error) {
	plan, err := arch.Plan()
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, set.Len())
	m := &Model{arch: arch, eps: arch.bnEps()}
	for _, st := range plan {
		s := stage{kind: st.Layer.Kind, layer: st.Layer}
		for _, spec := range st.Convs {
			c, err := bindConv(spec, set, used)
			if err != nil {
				return nil, err
			}
			s.convs = append(s.convs, c)
		}
		m.stages = append(m.stages, s)
	}
	for _, t := range set.Tensors() {
		if t.IsFloat() && !used[t.Name] {
			return nil, fmt.Errorf("%w: unexpected tensor %s %v", ErrShapeMismatch, t.Name, t.Shape)
		}
	}
	return m, nil
}

func lookup(set *params.Set, name string, shape []int, used map[string]bool) ([]float32, bool, error) {
	t, ok := set.Get(name)
	if !ok {
		return nil, false, nil
	}
	if !t.IsFloat() {
		return nil, true, fmt.Errorf("%w: %s has non-float dtype %s", ErrShapeMismatch, name, t.DType)
	}
	if !slices.Equal(t.Shape, shape) {
		return nil, true, fmt.Errorf("%w: %s is %v, want %v", ErrShapeMismatch, name, t.Shape, shape)
	}
	if len(t.F32) != t.Elements() {
		return nil, true, fmt.Errorf("%w: %s has %d values for %v", ErrShapeMismatch, name, len(t.F32), t.Shape)
	}
	used[name] = true
	return t.F32, true, nil
}

func bindConv(spec ConvSpec, set *params.Set, used map[string]bool) (*conv, error) {
	w, ok, err := lookup(set, spec.Name+".weight", spec.WeightShape(), used)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s.weight", ErrMissingParam, spec.Name)
	}
	c := &conv{spec: spec, weight: w}

	vec := []int{spec.OutChannels}
	if c.bias, _, err = lookup(set, spec.Name+".bias", vec, used); err != nil {
		return nil, err
	}

	var bn [4][]float32
	found := 0
	for i, suffix := range bnSuffixes {
		v, ok, err := lookup(set, spec.Name+suffix, vec, used)
		if err != nil {
			return nil, err
		}
		if ok {
			bn[i] = v
			found++
		}
	}
	switch found {
	case 0:
	case len(bnSuffixes):
		c.bn = &batchNorm{gamma: bn[0], beta: bn[1], mean: bn[2], variance: bn[3]}
		used[spec.Name+".bn.num_batches_tracked"] = true
	default:
		for i, suffix := range bnSuffixes {
			if bn[i] == nil {
				return nil, fmt.Errorf("%w: %s%s (batch norm is partial)", ErrMissingParam, spec.Name, suffix)
			}
		}
	}
	return c, nil
}

// Arch returns the topology the model was built from.
func (m *Model) Arch() Arch { return m.arch }

// NumClasses is the width of each logit row.
func (m *Model) NumClasses() int { return m.arch.NumClasses }

// Forward returns N x NumClasses logits, row-major.
func (m *Model) Forward(x tensor.Batch) ([]float32, error) {
	if x.C != m.arch.InChannels || x.H != m.arch.InputSize || x.W != m.arch.InputSize {
		return nil, fmt.Errorf("%w: input %v, want [N %d %d %d]", ErrShapeMismatch, x.Shape(), m.arch.InChannels, m.arch.InputSize, m.arch.InputSize)
	}
	if len(x.Data) != x.N*x.C*x.H*x.W {
		return nil, fmt.Errorf("%w: input has %d values for %v", ErrShapeMismatch, len(x.Data), x.Shape())
	}
	var err error
	for _, s := range m.stages {
		switch s.kind {
		case KindConv:
			x, err = m.runConv(s.convs[0], x)
		case KindFire:
			x, err = m.runFire(s.convs, x)
		case KindMaxPool:
			x, err = tensor.MaxPool2D(x, s.layer.Kernel, s.layer.Stride, s.layer.CeilMode)
		case KindAvgPool:
			x = tensor.GlobalAvgPool(x)
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", s.kind, s.layer.Name, err)
		}
	}
	return x.Data, nil
}

func (m *Model) runConv(c *conv, x tensor.Batch) (tensor.Batch, error) {
	out, err := tensor.Conv2D(x, c.weight, c.bias, tensor.ConvParams{
		OutChannels: c.spec.OutChannels,
		KernelH:     c.spec.Kernel,
		KernelW:     c.spec.Kernel,
		Stride:      c.spec.Stride,
		Padding:     c.spec.Padding,
	})
	if err != nil {
		return tensor.Batch{}, err
	}
	if c.bn != nil {
		if err := tensor.BatchNorm(out, c.bn.gamma, c.bn.beta, c.bn.mean, c.bn.variance, m.eps); err != nil {
			return tensor.Batch{}, err
		}
	}
	if c.spec.ReLU {
		tensor.ReLU(out.Data)
	}
	return out, nil
}

func (m *Model) runFire(convs []*conv, x tensor.Batch) (tensor.Batch, error) {
	s, err := m.runConv(convs[0], x)
	if err != nil {
		return tensor.Batch{}, err
	}
	e1, err := m.runConv(convs[1], s)
	if err != nil {
		return tensor.Batch{}, err
	}
	e3, err := m.runConv(convs[2], s)
	if err != nil {
		return tensor.Batch{}, err
	}
	return tensor.Concat(e1, e3), nil
}

// Predict returns the argmax class per sample.
func (m *Model) Predict(x tensor.Batch) ([]int, error) {
	logits, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	k := m.arch.NumClasses
	out := make([]int, x.N)
	for i := range out {
		out[i] = tensor.Argmax(logits[i*k : (i+1)*k])
	}
	return out, nil
}
