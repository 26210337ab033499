package model

import (
	"math"
	"math/rand/v2"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
)

// Init returns a deterministic He-uniform parameter set for arch: kernels in
// [-sqrt(6/fan_in), sqrt(6/fan_in)] and biases in [-1/sqrt(fan_in),
// 1/sqrt(fan_in)]. The same seed always yields the same set.
func Init(arch Arch, seed uint64) (*params.Set, error) {
	convs, err := arch.Convs()
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	set := params.NewSet()
	for _, c := range convs {
		fanIn := float64(c.InChannels * c.Kernel * c.Kernel)
		w := &params.Tensor{Name: c.Name + ".weight", DType: params.F32, Shape: c.WeightShape()}
		w.F32 = uniform(rng, w.Elements(), math.Sqrt(6/fanIn))
		b := &params.Tensor{Name: c.Name + ".bias", DType: params.F32, Shape: []int{c.OutChannels}}
		b.F32 = uniform(rng, c.OutChannels, 1/math.Sqrt(fanIn))
		for _, t := range []*params.Tensor{w, b} {
			if err := set.Add(t); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

func uniform(rng *rand.Rand, n int, bound float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return out
}
