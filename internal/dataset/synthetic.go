package dataset

import (
	"fmt"
	"math/rand/v2"
)

// Memory is an in-memory Source of already-normalized images.
type Memory struct {
	c, h, w int
	classes int
	pixels  []float32
	labels  []int
}

// NewMemory creates an empty source for c x h x w images.
func NewMemory(c, h, w, classes int) *Memory {
	return &Memory{c: c, h: h, w: w, classes: classes}
}

// Add appends one image; pixels are copied.
func (m *Memory) Add(pixels []float32, label int) error {
	if len(pixels) != m.c*m.h*m.w {
		return fmt.Errorf("%w: %d values, want %d", ErrCorrupt, len(pixels), m.c*m.h*m.w)
	}
	if label < 0 || label >= m.classes {
		return fmt.Errorf("%w: label %d outside [0,%d)", ErrCorrupt, label, m.classes)
	}
	m.pixels = append(m.pixels, pixels...)
	m.labels = append(m.labels, label)
	return nil
}

func (m *Memory) Len() int             { return len(m.labels) }
func (m *Memory) Shape() (c, h, w int) { return m.c, m.h, m.w }
func (m *Memory) Classes() int         { return m.classes }

func (m *Memory) Example(i int) (Example, error) {
	if i < 0 || i >= len(m.labels) {
		return Example{}, fmt.Errorf("dataset: index %d out of range [0,%d)", i, len(m.labels))
	}
	size := m.c * m.h * m.w
	return Example{Pixels: m.pixels[i*size : (i+1)*size], Label: m.labels[i]}, nil
}

// Synthetic returns n reproducible 3 x size x size images with
// standard-normal pixels and uniform labels.
func Synthetic(n, classes, size int, seed uint64) *Memory {
	rng := rand.New(rand.NewPCG(seed, 0xc1fa))
	m := NewMemory(3, size, size, classes)
	m.pixels = make([]float32, 0, n*3*size*size)
	m.labels = make([]int, 0, n)
	for range n {
		for range 3 * size * size {
			m.pixels = append(m.pixels, float32(rng.NormFloat64()))
		}
		m.labels = append(m.labels, rng.IntN(classes))
	}
	return m
}
