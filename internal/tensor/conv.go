package tensor

import "fmt"

// ConvParams describes a 2D convolution over a square or rectangular kernel.
type ConvParams struct {
	OutChannels int
	KernelH     int
	KernelW     int
	Stride      int
	Padding     int
}

// ConvOutputSize returns the spatial output extent for one axis.
func ConvOutputSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// Conv2D convolves x with an OIHW kernel ([out, in, kh, kw] flattened) and
// adds bias when it is non-nil. The product is computed per sample as
// W[out, in*kh*kw] x cols[in*kh*kw, oh*ow] using im2col.
func Conv2D(x Batch, kernel, bias []float32, p ConvParams) (Batch, error) {
	if p.Stride <= 0 {
		return Batch{}, fmt.Errorf("conv2d: invalid stride %d", p.Stride)
	}
	k := x.C * p.KernelH * p.KernelW
	if len(kernel) != p.OutChannels*k {
		return Batch{}, fmt.Errorf("conv2d: kernel has %d values, want %d", len(kernel), p.OutChannels*k)
	}
	if bias != nil && len(bias) != p.OutChannels {
		return Batch{}, fmt.Errorf("conv2d: bias has %d values, want %d", len(bias), p.OutChannels)
	}
	oh := ConvOutputSize(x.H, p.KernelH, p.Stride, p.Padding)
	ow := ConvOutputSize(x.W, p.KernelW, p.Stride, p.Padding)
	if oh <= 0 || ow <= 0 {
		return Batch{}, fmt.Errorf("conv2d: invalid output dimensions %dx%d for input %dx%d", oh, ow, x.H, x.W)
	}

	out := NewBatch(x.N, p.OutChannels, oh, ow)
	w := NewMatFromData(p.OutChannels, k, kernel)
	pointwise := p.KernelH == 1 && p.KernelW == 1 && p.Stride == 1 && p.Padding == 0

	var cols Mat
	if !pointwise {
		cols = NewMat(k, oh*ow)
	}
	for n := 0; n < x.N; n++ {
		sample := x.Sample(n)
		if pointwise {
			cols = NewMatFromData(x.C, x.H*x.W, sample.Data)
		} else {
			im2col(cols.Data, sample.Data, x.C, x.H, x.W, p.KernelH, p.KernelW, oh, ow, p.Stride, p.Padding)
		}
		dst := NewMatFromData(p.OutChannels, oh*ow, out.Sample(n).Data)
		Gemm(&dst, &w, &cols)
		if bias != nil {
			for c := 0; c < p.OutChannels; c++ {
				row := dst.Row(c)
				b := bias[c]
				for i := range row {
					row[i] += b
				}
			}
		}
	}
	return out, nil
}

// im2col lays out one CHW sample as [c*kh*kw, oh*ow]; padded taps are zero.
func im2col(cols, in []float32, C, H, W, KH, KW, OH, OW, stride, padding int) {
	plane := OH * OW
	row := 0
	for c := 0; c < C; c++ {
		src := in[c*H*W : (c+1)*H*W]
		for kh := 0; kh < KH; kh++ {
			for kw := 0; kw < KW; kw++ {
				dst := cols[row*plane : (row+1)*plane]
				i := 0
				for oy := 0; oy < OH; oy++ {
					y := oy*stride - padding + kh
					if y < 0 || y >= H {
						clear(dst[i : i+OW])
						i += OW
						continue
					}
					for ox := 0; ox < OW; ox++ {
						xx := ox*stride - padding + kw
						if xx < 0 || xx >= W {
							dst[i] = 0
						} else {
							dst[i] = src[y*W+xx]
						}
						i++
					}
				}
				row++
			}
		}
	}
}
