// Package dataset supplies labelled CHW float32 images to the evaluator.
package dataset

import (
	"errors"
	"fmt"
	"iter"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/tensor"
)

// ErrCorrupt reports a malformed dataset file or an out-of-range label.
var ErrCorrupt = errors.New("corrupt dataset")

// Example is one image in CHW order plus its class index.
type Example struct {
	Pixels []float32
	Label  int
}

// Source is a random-access labelled image collection.
type Source interface {
	Len() int
	// Shape is the per-image channel, height and width.
	Shape() (c, h, w int)
	Classes() int
	Example(i int) (Example, error)
}

// Batch is a stacked group of examples.
type Batch struct {
	Inputs tensor.Batch
	Labels []int
}

// Batches yields consecutive batches of at most batchSize examples, covering
// the first limit examples of src (all of them when limit <= 0).
func Batches(src Source, batchSize, limit int) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		if batchSize <= 0 {
			yield(Batch{}, fmt.Errorf("dataset: batch size must be positive, got %d", batchSize))
			return
		}
		n := src.Len()
		if limit > 0 && limit < n {
			n = limit
		}
		c, h, w := src.Shape()
		size := c * h * w
		for start := 0; start < n; start += batchSize {
			end := min(start+batchSize, n)
			b := Batch{
				Inputs: tensor.NewBatch(end-start, c, h, w),
				Labels: make([]int, end-start),
			}
			for i := start; i < end; i++ {
				ex, err := src.Example(i)
				if err != nil {
					yield(Batch{}, fmt.Errorf("example %d: %w", i, err))
					return
				}
				if len(ex.Pixels) != size {
					yield(Batch{}, fmt.Errorf("%w: example %d has %d values, want %d", ErrCorrupt, i, len(ex.Pixels), size))
					return
				}
				copy(b.Inputs.Data[(i-start)*size:], ex.Pixels)
				b.Labels[i-start] = ex.Label
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// Count is the number of examples Batches visits for limit.
func Count(src Source, limit int) int {
	if limit > 0 && limit < src.Len() {
		return limit
	}
	return src.Len()
}
