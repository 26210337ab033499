package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
	"github.com/x448/float16"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
)

var headerPadding = [8]byte{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

// Write serializes set in insertion order. Tensors that carry Raw bytes are
// emitted verbatim; float tensors without them are encoded from F32 in their
// own dtype.
func Write(w io.Writer, set *params.Set, metadata map[string]string) error {
	header := make(map[string]any, set.Len()+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	tensors := set.Tensors()
	var offset int64
	for _, t := range tensors {
		size, err := byteSize(t)
		if err != nil {
			return err
		}
		header[t.Name] = tensorHeader{
			DType:       string(t.DType),
			Shape:       shapeOrEmpty(t.Shape),
			DataOffsets: []int64{offset, offset + size},
		}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	pad := (8 - len(headerBytes)%8) % 8
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)+pad))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write header size: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if pad > 0 {
		if _, err := w.Write(headerPadding[:pad]); err != nil {
			return fmt.Errorf("write header padding: %w", err)
		}
	}

	for _, t := range tensors {
		if err := writeTensor(w, t); err != nil {
			return fmt.Errorf("write tensor %s: %w", t.Name, err)
		}
	}
	return nil
}

// WriteFile writes set to path, replacing any existing file.
func WriteFile(path string, set *params.Set, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, set, metadata); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func shapeOrEmpty(shape []int) []int {
	if shape == nil {
		return []int{}
	}
	return shape
}

func byteSize(t *params.Tensor) (int64, error) {
	if !t.IsFloat() {
		return int64(len(t.Raw)), nil
	}
	n, err := numElements(t.Shape)
	if err != nil {
		return 0, fmt.Errorf("tensor %s: %w", t.Name, err)
	}
	size := n * t.DType.Size()
	if t.Raw != nil {
		if len(t.Raw) != size {
			return 0, fmt.Errorf("tensor %s: %d bytes for %s%v", t.Name, len(t.Raw), t.DType, t.Shape)
		}
		return int64(size), nil
	}
	if len(t.F32) != n {
		return 0, fmt.Errorf("tensor %s: %d values for shape %v", t.Name, len(t.F32), t.Shape)
	}
	return int64(size), nil
}

func writeTensor(w io.Writer, t *params.Tensor) error {
	if !t.IsFloat() || t.Raw != nil {
		_, err := w.Write(t.Raw)
		return err
	}
	size := t.DType.Size()
	buf := make([]byte, len(t.F32)*size)
	for i, v := range t.F32 {
		switch t.DType {
		case params.F32:
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		case params.F64:
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(float64(v)))
		case params.F16:
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		case params.BF16:
			binary.LittleEndian.PutUint16(buf[i*2:], f32ToBF16(v))
		}
	}
	_, err := w.Write(buf)
	return err
}
