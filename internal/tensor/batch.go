// Package tensor implements the NCHW float32 kernels used by the CNN
// forward pass.
package tensor

import "fmt"

// Batch is a dense NCHW activation tensor.
type Batch struct {
	N, C, H, W int
	Data       []float32
}

// NewBatch allocates a zeroed n x c x h x w batch.
func NewBatch(n, c, h, w int) Batch {
	if n < 0 || c < 0 || h < 0 || w < 0 {
		panic(fmt.Sprintf("tensor: negative batch shape %dx%dx%dx%d", n, c, h, w))
	}
	return Batch{N: n, C: c, H: h, W: w, Data: make([]float32, n*c*h*w)}
}

// BatchFromData wraps data without copying.
func BatchFromData(n, c, h, w int, data []float32) (Batch, error) {
	if n*c*h*w != len(data) {
		return Batch{}, fmt.Errorf("tensor: %d values for shape %dx%dx%dx%d", len(data), n, c, h, w)
	}
	return Batch{N: n, C: c, H: h, W: w, Data: data}, nil
}

// Shape returns [N, C, H, W].
func (b Batch) Shape() []int { return []int{b.N, b.C, b.H, b.W} }

// Sample returns a view of the i-th image as a 1xCxHxW batch.
func (b Batch) Sample(i int) Batch {
	size := b.C * b.H * b.W
	return Batch{N: 1, C: b.C, H: b.H, W: b.W, Data: b.Data[i*size : (i+1)*size]}
}

// Channel returns a view of plane (n, c).
func (b Batch) Channel(n, c int) []float32 {
	plane := b.H * b.W
	off := (n*b.C + c) * plane
	return b.Data[off : off+plane]
}

// Concat joins batches along the channel axis. All inputs must agree on
// N, H and W.
func Concat(parts ...Batch) Batch {
	if len(parts) == 0 {
		return Batch{}
	}
	n, h, w := parts[0].N, parts[0].H, parts[0].W
	channels := 0
	for _, p := range parts {
		if p.N != n || p.H != h || p.W != w {
			panic(fmt.Sprintf("tensor: concat shape mismatch %v vs %v", p.Shape(), parts[0].Shape()))
		}
		channels += p.C
	}
	out := NewBatch(n, channels, h, w)
	plane := h * w
	for i := 0; i < n; i++ {
		dst := out.Data[i*channels*plane:]
		off := 0
		for _, p := range parts {
			size := p.C * plane
			copy(dst[off:off+size], p.Data[i*size:(i+1)*size])
			off += size
		}
	}
	return out
}
