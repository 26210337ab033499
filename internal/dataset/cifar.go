package dataset

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const (
	cifarSide   = 32
	cifarPixels = 3 * cifarSide * cifarSide
	cifarRecord = 1 + cifarPixels
)

// CIFAR10Classes are the label names in index order.
var CIFAR10Classes = []string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// Normalization is the per-channel transform applied after scaling pixels
// to [0, 1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// CIFAR10Norm is the channel statistics the classifier was trained with.
var CIFAR10Norm = Normalization{
	Mean: [3]float32{0.4914, 0.4822, 0.4465},
	Std:  [3]float32{0.2023, 0.1994, 0.2010},
}

// CIFAR holds records in the CIFAR-10 binary layout: one label byte then
// 1024 red, 1024 green and 1024 blue bytes.
type CIFAR struct {
	records []byte
	n       int
	side    int
	norm    Normalization
}

type cifarOptions struct {
	side int
	norm Normalization
}

// CIFAROption configures decoding.
type CIFAROption func(*cifarOptions)

// WithResize bilinearly rescales every image to side x side.
func WithResize(side int) CIFAROption {
	return func(o *cifarOptions) { o.side = side }
}

// WithNormalization overrides CIFAR10Norm.
func WithNormalization(n Normalization) CIFAROption {
	return func(o *cifarOptions) { o.norm = n }
}

// NewCIFAR wraps raw record bytes.
func NewCIFAR(records []byte, opts ...CIFAROption) (*CIFAR, error) {
	o := cifarOptions{side: cifarSide, norm: CIFAR10Norm}
	for _, opt := range opts {
		opt(&o)
	}
	if o.side <= 0 {
		return nil, fmt.Errorf("dataset: invalid resize %d", o.side)
	}
	for i, s := range o.norm.Std {
		if s == 0 {
			return nil, fmt.Errorf("dataset: zero std for channel %d", i)
		}
	}
	if len(records)%cifarRecord != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of the %d-byte record", ErrCorrupt, len(records), cifarRecord)
	}
	n := len(records) / cifarRecord
	for i := range n {
		if l := records[i*cifarRecord]; int(l) >= len(CIFAR10Classes) {
			return nil, fmt.Errorf("%w: record %d has label %d", ErrCorrupt, i, l)
		}
	}
	return &CIFAR{records: records, n: n, side: o.side, norm: o.norm}, nil
}

// OpenCIFAR concatenates the records of one or more batch files.
func OpenCIFAR(paths []string, opts ...CIFAROption) (*CIFAR, error) {
	var all []byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if len(data)%cifarRecord != 0 {
			return nil, fmt.Errorf("%w: %s: %d bytes", ErrCorrupt, p, len(data))
		}
		all = append(all, data...)
	}
	return NewCIFAR(all, opts...)
}

// CIFARSplitFiles returns the batch files of a split in the standard
// cifar-10-batches-bin directory: "test" or "train".
func CIFARSplitFiles(dir, split string) ([]string, error) {
	switch split {
	case "", "test":
		return []string{filepath.Join(dir, "test_batch.bin")}, nil
	case "train":
		files := make([]string, 5)
		for i := range files {
			files[i] = filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i+1))
		}
		return files, nil
	}
	return nil, fmt.Errorf("dataset: unknown split %q", split)
}

func (c *CIFAR) Len() int              { return c.n }
func (c *CIFAR) Shape() (ch, h, w int) { return 3, c.side, c.side }
func (c *CIFAR) Classes() int          { return len(CIFAR10Classes) }

// Label returns the class of record i without decoding pixels.
func (c *CIFAR) Label(i int) int { return int(c.records[i*cifarRecord]) }

func (c *CIFAR) raw(i int) []byte { return c.records[i*cifarRecord+1 : (i+1)*cifarRecord] }

// Example decodes, optionally resizes, and normalizes record i.
func (c *CIFAR) Example(i int) (Example, error) {
	if i < 0 || i >= c.n {
		return Example{}, fmt.Errorf("dataset: index %d out of range [0,%d)", i, c.n)
	}
	planes := c.raw(i)
	side := cifarSide
	if c.side != cifarSide {
		planes = resize(planes, cifarSide, c.side)
		side = c.side
	}
	plane := side * side
	out := make([]float32, 3*plane)
	for ch := range 3 {
		mean, std := c.norm.Mean[ch], c.norm.Std[ch]
		src := planes[ch*plane : (ch+1)*plane]
		dst := out[ch*plane : (ch+1)*plane]
		for j, v := range src {
			dst[j] = (float32(v)/255 - mean) / std
		}
	}
	return Example{Pixels: out, Label: c.Label(i)}, nil
}

// resize scales three planar channels through an RGBA image.
func resize(planes []byte, from, to int) []byte {
	src := image.NewRGBA(image.Rect(0, 0, from, from))
	plane := from * from
	for p := range plane {
		src.Pix[p*4+0] = planes[p]
		src.Pix[p*4+1] = planes[plane+p]
		src.Pix[p*4+2] = planes[2*plane+p]
		src.Pix[p*4+3] = 0xff
	}
	dst := image.NewRGBA(image.Rect(0, 0, to, to))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	outPlane := to * to
	out := make([]byte, 3*outPlane)
	for p := range outPlane {
		out[p] = dst.Pix[p*4+0]
		out[outPlane+p] = dst.Pix[p*4+1]
		out[2*outPlane+p] = dst.Pix[p*4+2]
	}
	return out
}
