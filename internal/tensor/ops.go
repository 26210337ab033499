package tensor

import (
	"fmt"
	"math"
)

// ReLU clamps negative activations to zero in place.
func ReLU(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// BatchNorm applies inference-mode batch normalization in place:
// y = gamma * (x - mean) / sqrt(var + eps) + beta, per channel.
func BatchNorm(x Batch, gamma, beta, mean, variance []float32, eps float32) error {
	for _, p := range [][]float32{gamma, beta, mean, variance} {
		if len(p) != x.C {
			return fmt.Errorf("batchnorm: parameter has %d values for %d channels", len(p), x.C)
		}
	}
	for c := 0; c < x.C; c++ {
		scale := gamma[c] / float32(math.Sqrt(float64(variance[c]+eps)))
		shift := beta[c] - mean[c]*scale
		for n := 0; n < x.N; n++ {
			plane := x.Channel(n, c)
			for i, v := range plane {
				plane[i] = v*scale + shift
			}
		}
	}
	return nil
}

// Argmax returns the index of the largest value; the first wins on ties.
// It returns -1 for an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[Argmax(x)]
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// CrossEntropy is -log softmax(logits)[label].
func CrossEntropy(logits []float32, label int) float64 {
	if label < 0 || label >= len(logits) {
		return math.Inf(1)
	}
	maxv := float64(logits[Argmax(logits)])
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxv)
	}
	return maxv + math.Log(sum) - float64(logits[label])
}
