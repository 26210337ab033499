// Package safetensors reads and writes checkpoints in the safetensors
// layout: an 8-byte little-endian header length, a JSON header, then the
// raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"github.com/x448/float16"
	"golang.org/x/sys/unix"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
)

// ErrCorrupt is returned when the header or offsets are inconsistent with
// the file contents.
var ErrCorrupt = errors.New("corrupt safetensors file")

const metadataKey = "__metadata__"

// maxHeaderLen bounds the JSON header we are willing to parse.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType params.DType
	Shape []int
	Start int64
	End   int64
}

type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string

	data    []byte
	mmapped bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps the checkpoint read-only and parses its header. If mmap is
// unavailable the file is read into memory instead. Close releases it.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s: size %d", ErrCorrupt, path, size64)
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		sf, parseErr := parse(path, data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return sf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parse(path, data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parse(path string, data []byte, mmapped bool) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length %d exceeds file", ErrCorrupt, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	var meta map[string]string
	if msg, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(msg, &meta); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
		}
		delete(raw, metadataKey)
	}

	dataLen := int64(len(data)) - int64(8+headerLen)
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrCorrupt, name)
		}
		if th.DataOffsets[1] > dataLen {
			return nil, fmt.Errorf("%w: tensor %s: data ends at %d past %d", ErrCorrupt, name, th.DataOffsets[1], dataLen)
		}
		tensors[name] = TensorInfo{
			DType: params.DType(th.DType),
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   tensors,
		Metadata:  meta,
		data:      data,
		mmapped:   mmapped,
	}, nil
}

// Close releases the mapping. Slices returned by ReadTensor stay valid.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Names returns tensor names ordered by data offset.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		ta, tb := f.Tensors[a], f.Tensors[b]
		if ta.Start != tb.Start {
			if ta.Start < tb.Start {
				return -1
			}
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return names
}

// ReadTensor returns a copy of the tensor's raw bytes.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	if f.data == nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: file closed", name)
	}
	if t.Start < 0 || t.End < t.Start {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: invalid offsets", name)
	}
	lo, hi := f.DataStart+t.Start, f.DataStart+t.End
	if hi > int64(len(f.data)) {
		return nil, TensorInfo{}, fmt.Errorf("%w: tensor %s out of bounds", ErrCorrupt, name)
	}
	return slices.Clone(f.data[lo:hi]), t, nil
}

// ReadTensorF32 decodes a floating-point tensor into float32.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	out, err := decodeF32(raw, info)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return out, info, nil
}

func decodeF32(raw []byte, info TensorInfo) ([]float32, error) {
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, err
	}
	if !info.DType.IsFloat() {
		return nil, fmt.Errorf("unsupported dtype %s", info.DType)
	}
	if len(raw) != n*info.DType.Size() {
		return nil, fmt.Errorf("invalid %s data size", info.DType)
	}
	out := make([]float32, n)
	switch info.DType {
	case params.F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case params.F64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case params.BF16:
		for i := range out {
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case params.F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	}
	return out, nil
}

// LoadSet decodes every tensor into a parameter set, ordered by data offset.
// Float tensors keep their stored bytes in Raw next to the decoded values.
func (f *File) LoadSet() (*params.Set, error) {
	set := params.NewSet()
	for _, name := range f.Names() {
		raw, info, err := f.ReadTensor(name)
		if err != nil {
			return nil, err
		}
		t := &params.Tensor{Name: name, DType: info.DType, Shape: slices.Clone(info.Shape), Raw: raw}
		if info.DType.IsFloat() {
			if t.F32, err = decodeF32(raw, info); err != nil {
				return nil, fmt.Errorf("tensor %s: %w", name, err)
			}
		}
		if err := set.Add(t); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Load opens path, decodes every tensor and releases the file.
func Load(path string) (*params.Set, map[string]string, error) {
	f, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()
	set, err := f.LoadSet()
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	return set, f.Metadata, nil
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d > 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// f32ToBF16 rounds to nearest even; NaN keeps a quiet payload.
func f32ToBF16(v float32) uint16 {
	b := math.Float32bits(v)
	if math.IsNaN(float64(v)) {
		return uint16(b>>16) | 0x40
	}
	b += 0x7FFF + ((b >> 16) & 1)
	return uint16(b >> 16)
}
