package tensor

import (
	"fmt"
	"math"
)

// PoolOutputSize mirrors torch's pooling shape rule. With ceil mode the last
// window may hang off the edge, but it must start inside the input.
func PoolOutputSize(in, kernel, stride int, ceil bool) int {
	span := in - kernel
	out := span/stride + 1
	if ceil {
		out = (span+stride-1)/stride + 1
		if (out-1)*stride >= in {
			out--
		}
	}
	return out
}

// MaxPool2D takes the maximum over each kernel x kernel window. Windows that
// overhang the input in ceil mode only consider the in-bounds taps.
func MaxPool2D(x Batch, kernel, stride int, ceil bool) (Batch, error) {
	if kernel <= 0 || stride <= 0 {
		return Batch{}, fmt.Errorf("maxpool2d: invalid kernel %d / stride %d", kernel, stride)
	}
	if kernel > x.H || kernel > x.W {
		return Batch{}, fmt.Errorf("maxpool2d: kernel size %d too large for input %dx%d", kernel, x.H, x.W)
	}
	oh := PoolOutputSize(x.H, kernel, stride, ceil)
	ow := PoolOutputSize(x.W, kernel, stride, ceil)
	out := NewBatch(x.N, x.C, oh, ow)
	for n := 0; n < x.N; n++ {
		for c := 0; c < x.C; c++ {
			src := x.Channel(n, c)
			dst := out.Channel(n, c)
			for oy := 0; oy < oh; oy++ {
				y0 := oy * stride
				y1 := min(y0+kernel, x.H)
				for ox := 0; ox < ow; ox++ {
					x0 := ox * stride
					x1 := min(x0+kernel, x.W)
					m := float32(math.Inf(-1))
					for y := y0; y < y1; y++ {
						for xx := x0; xx < x1; xx++ {
							if v := src[y*x.W+xx]; v > m {
								m = v
							}
						}
					}
					dst[oy*ow+ox] = m
				}
			}
		}
	}
	return out, nil
}

// GlobalAvgPool averages every channel plane to one value, producing an
// N x C x 1 x 1 batch.
func GlobalAvgPool(x Batch) Batch {
	out := NewBatch(x.N, x.C, 1, 1)
	plane := x.H * x.W
	if plane == 0 {
		return out
	}
	for n := 0; n < x.N; n++ {
		for c := 0; c < x.C; c++ {
			var sum float64
			for _, v := range x.Channel(n, c) {
				sum += float64(v)
			}
			out.Data[n*x.C+c] = float32(sum / float64(plane))
		}
	}
	return out
}
