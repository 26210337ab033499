package model

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/tensor"
)

// ErrInvalidArch is returned for topologies that cannot be executed.
var ErrInvalidArch = errors.New("invalid architecture")

type LayerKind string

const (
	KindConv    LayerKind = "conv"
	KindMaxPool LayerKind = "maxpool"
	KindFire    LayerKind = "fire"
	KindAvgPool LayerKind = "avgpool"
)

// Layer is one stage of the network. Which fields apply depends on Kind:
// conv uses OutChannels, Kernel, Stride, Padding and Linear; maxpool uses
// Kernel, Stride and CeilMode; fire uses Squeeze and Expand; avgpool is a
// global average.
type Layer struct {
	Name        string    `yaml:"name,omitempty"`
	Kind        LayerKind `yaml:"kind"`
	OutChannels int       `yaml:"out_channels,omitempty"`
	Kernel      int       `yaml:"kernel,omitempty"`
	Stride      int       `yaml:"stride,omitempty"`
	Padding     int       `yaml:"padding,omitempty"`
	CeilMode    bool      `yaml:"ceil_mode,omitempty"`
	Squeeze     int       `yaml:"squeeze,omitempty"`
	Expand      int       `yaml:"expand,omitempty"`
	// Linear disables the ReLU that otherwise follows a conv.
	Linear bool `yaml:"linear,omitempty"`
}

// Arch describes an image classifier as an ordered list of layers.
type Arch struct {
	Name         string  `yaml:"name"`
	InputSize    int     `yaml:"input_size"`
	InChannels   int     `yaml:"in_channels"`
	NumClasses   int     `yaml:"num_classes"`
	BatchNormEps float32 `yaml:"batchnorm_eps,omitempty"`
	Layers       []Layer `yaml:"layers"`
}

// SqueezeNet10 is SqueezeNet 1.0 for 10-class CIFAR inputs upscaled to 224.
func SqueezeNet10() Arch {
	fire := func(name string, squeeze, expand int) Layer {
		return Layer{Name: name, Kind: KindFire, Squeeze: squeeze, Expand: expand}
	}
	pool := Layer{Kind: KindMaxPool, Kernel: 3, Stride: 2, CeilMode: true}
	return Arch{
		Name:         "squeezenet1_0",
		InputSize:    224,
		InChannels:   3,
		NumClasses:   10,
		BatchNormEps: 1e-5,
		Layers: []Layer{
			{Name: "conv1", Kind: KindConv, OutChannels: 96, Kernel: 7, Stride: 2, Padding: 3},
			pool,
			fire("fire2", 16, 64),
			fire("fire3", 16, 64),
			fire("fire4", 32, 128),
			pool,
			fire("fire5", 32, 128),
			fire("fire6", 48, 192),
			fire("fire7", 48, 192),
			fire("fire8", 64, 256),
			pool,
			fire("fire9", 64, 256),
			{Name: "conv10", Kind: KindConv, OutChannels: 10, Kernel: 1, Stride: 1},
			{Kind: KindAvgPool},
		},
	}
}

// LoadArch reads a YAML architecture file.
func LoadArch(path string) (Arch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Arch{}, err
	}
	return ParseArch(data)
}

// ParseArch decodes and validates a YAML architecture.
func ParseArch(data []byte) (Arch, error) {
	var a Arch
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Arch{}, fmt.Errorf("%w: %v", ErrInvalidArch, err)
	}
	if err := a.Validate(); err != nil {
		return Arch{}, err
	}
	return a, nil
}

// ConvSpec is one convolution with its resolved input channel count. Fire
// modules expand into three of these.
type ConvSpec struct {
	Name        string
	InChannels  int
	OutChannels int
	Kernel      int
	Stride      int
	Padding     int
	ReLU        bool
}

// WeightShape is the OIHW shape of the kernel tensor.
func (c ConvSpec) WeightShape() []int {
	return []int{c.OutChannels, c.InChannels, c.Kernel, c.Kernel}
}

// Stage is one layer with its resolved output shape.
type Stage struct {
	Layer Layer
	Convs []ConvSpec
	OutC  int
	OutH  int
	OutW  int
}

// Plan walks the topology, resolving channels and spatial sizes.
func (a Arch) Plan() ([]Stage, error) {
	if a.InputSize <= 0 || a.InChannels <= 0 || a.NumClasses <= 0 {
		return nil, fmt.Errorf("%w: input_size, in_channels and num_classes must be positive", ErrInvalidArch)
	}
	if len(a.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidArch)
	}
	c, h, w := a.InChannels, a.InputSize, a.InputSize
	names := make(map[string]bool)
	stages := make([]Stage, 0, len(a.Layers))
	for i, l := range a.Layers {
		st := Stage{Layer: l}
		switch l.Kind {
		case KindConv:
			if err := checkName(names, l, i); err != nil {
				return nil, err
			}
			if l.OutChannels <= 0 || l.Kernel <= 0 || l.Stride <= 0 || l.Padding < 0 {
				return nil, fmt.Errorf("%w: layer %d (%s): conv needs positive out_channels, kernel and stride", ErrInvalidArch, i, l.Name)
			}
			st.Convs = []ConvSpec{{
				Name: l.Name, InChannels: c, OutChannels: l.OutChannels,
				Kernel: l.Kernel, Stride: l.Stride, Padding: l.Padding, ReLU: !l.Linear,
			}}
			c = l.OutChannels
			h = tensor.ConvOutputSize(h, l.Kernel, l.Stride, l.Padding)
			w = tensor.ConvOutputSize(w, l.Kernel, l.Stride, l.Padding)
		case KindFire:
			if err := checkName(names, l, i); err != nil {
				return nil, err
			}
			if l.Squeeze <= 0 || l.Expand <= 0 {
				return nil, fmt.Errorf("%w: layer %d (%s): fire needs positive squeeze and expand", ErrInvalidArch, i, l.Name)
			}
			st.Convs = []ConvSpec{
				{Name: l.Name + ".squeeze", InChannels: c, OutChannels: l.Squeeze, Kernel: 1, Stride: 1, ReLU: true},
				{Name: l.Name + ".expand1x1", InChannels: l.Squeeze, OutChannels: l.Expand, Kernel: 1, Stride: 1, ReLU: true},
				{Name: l.Name + ".expand3x3", InChannels: l.Squeeze, OutChannels: l.Expand, Kernel: 3, Stride: 1, Padding: 1, ReLU: true},
			}
			c = 2 * l.Expand
		case KindMaxPool:
			if l.Kernel <= 0 || l.Stride <= 0 {
				return nil, fmt.Errorf("%w: layer %d: maxpool needs positive kernel and stride", ErrInvalidArch, i)
			}
			if l.Kernel > h || l.Kernel > w {
				return nil, fmt.Errorf("%w: layer %d: maxpool kernel %d exceeds %dx%d input", ErrInvalidArch, i, l.Kernel, h, w)
			}
			h = tensor.PoolOutputSize(h, l.Kernel, l.Stride, l.CeilMode)
			w = tensor.PoolOutputSize(w, l.Kernel, l.Stride, l.CeilMode)
		case KindAvgPool:
			h, w = 1, 1
		default:
			return nil, fmt.Errorf("%w: layer %d: unknown kind %q", ErrInvalidArch, i, l.Kind)
		}
		if h <= 0 || w <= 0 {
			return nil, fmt.Errorf("%w: layer %d (%s): spatial size collapsed to %dx%d", ErrInvalidArch, i, l.Name, h, w)
		}
		st.OutC, st.OutH, st.OutW = c, h, w
		stages = append(stages, st)
	}
	if c != a.NumClasses || h != 1 || w != 1 {
		return nil, fmt.Errorf("%w: network ends in %dx%dx%d, want %dx1x1", ErrInvalidArch, c, h, w, a.NumClasses)
	}
	return stages, nil
}

func checkName(seen map[string]bool, l Layer, i int) error {
	if l.Name == "" {
		return fmt.Errorf("%w: layer %d (%s) needs a name", ErrInvalidArch, i, l.Kind)
	}
	if seen[l.Name] {
		return fmt.Errorf("%w: duplicate layer name %q", ErrInvalidArch, l.Name)
	}
	seen[l.Name] = true
	return nil
}

// Validate reports whether the topology is executable.
func (a Arch) Validate() error {
	_, err := a.Plan()
	return err
}

// Convs lists every convolution in execution order.
func (a Arch) Convs() ([]ConvSpec, error) {
	stages, err := a.Plan()
	if err != nil {
		return nil, err
	}
	var out []ConvSpec
	for _, st := range stages {
		out = append(out, st.Convs...)
	}
	return out, nil
}

func (a Arch) bnEps() float32 {
	if a.BatchNormEps > 0 {
		return a.BatchNormEps
	}
	return 1e-5
}
