// Package fixedpoint simulates signed ap_fixed<W,I> weight storage in
// software: values are scaled onto a uniform grid, rounded, saturated and
// converted back to float32.
package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidFormat is returned for bit-width configurations that cannot
// describe a signed fixed-point type.
var ErrInvalidFormat = errors.New("invalid fixed-point format")

// MaxTotalBits keeps the integer grid exactly representable in a float64,
// the precision every quantization step runs at.
//
// Results returned as float32 round once more on the way out. Up to
// MaxFloat32IntBits every value stays inside Range; above it QMax has no
// float32 form and a saturated value rounds up to 2^(IntBits-1). The
// float64 entry points are exact for every valid format.
const MaxTotalBits = 53

// MaxFloat32IntBits is the widest integer part whose bounds float32 holds
// exactly.
const MaxFloat32IntBits = 25

// RoundMode selects how w*scale is mapped onto the integer grid.
type RoundMode uint8

const (
	// RoundHalfEven rounds to nearest, ties to even. This is torch.round and
	// the default used by the reference training scripts.
	RoundHalfEven RoundMode = iota
	// RoundHalfUp rounds to nearest, ties toward +inf (Vitis AP_RND).
	RoundHalfUp
	// RoundTrunc rounds toward -inf (Vitis AP_TRN).
	RoundTrunc
)

func (m RoundMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundHalfUp:
		return "half_up"
	case RoundTrunc:
		return "trunc"
	default:
		return "RoundMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseRoundMode accepts the String forms plus the Vitis mode names.
func ParseRoundMode(s string) (RoundMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "half_even", "even", "torch":
		return RoundHalfEven, nil
	case "half_up", "ap_rnd", "rnd":
		return RoundHalfUp, nil
	case "trunc", "ap_trn", "floor":
		return RoundTrunc, nil
	}
	return 0, fmt.Errorf("%w: unknown rounding mode %q", ErrInvalidFormat, s)
}

func (m RoundMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *RoundMode) UnmarshalText(b []byte) error {
	v, err := ParseRoundMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Saturation selects the clamp applied after rounding.
type Saturation uint8

const (
	// SaturateIntRange clamps grid values to [QMin*Scale, QMax*Scale], so
	// dequantized weights land in [QMin, QMax]. This mirrors the reference
	// quantization helper exactly.
	SaturateIntRange Saturation = iota
	// SaturateWord clamps grid values to the full W-bit signed word
	// [-2^(W-1), 2^(W-1)-1], i.e. ap_fixed AP_SAT.
	SaturateWord
)

func (s Saturation) String() string {
	switch s {
	case SaturateIntRange:
		return "int"
	case SaturateWord:
		return "word"
	default:
		return "Saturation(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseSaturation accepts the String forms plus "ap_sat".
func ParseSaturation(s string) (Saturation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "int", "int_range", "reference":
		return SaturateIntRange, nil
	case "word", "ap_sat":
		return SaturateWord, nil
	}
	return 0, fmt.Errorf("%w: unknown saturation mode %q", ErrInvalidFormat, s)
}

func (s Saturation) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Saturation) UnmarshalText(b []byte) error {
	v, err := ParseSaturation(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Format is a (total_bits, int_bits) pair plus the rounding and saturation
// behaviour. The zero modes reproduce the reference helper.
type Format struct {
	TotalBits  int        `json:"total_bits" yaml:"total_bits"`
	IntBits    int        `json:"int_bits" yaml:"int_bits"`
	Round      RoundMode  `json:"round" yaml:"round"`
	Saturation Saturation `json:"saturation" yaml:"saturation"`
}

// New returns a validated format using the default modes.
func New(totalBits, intBits int) (Format, error) {
	f := Format{TotalBits: totalBits, IntBits: intBits}
	if err := f.Validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

// Validate reports configuration errors before any tensor is touched.
func (f Format) Validate() error {
	switch {
	case f.TotalBits <= 0:
		return fmt.Errorf("%w: total_bits must be positive, got %d", ErrInvalidFormat, f.TotalBits)
	case f.TotalBits > MaxTotalBits:
		return fmt.Errorf("%w: total_bits must be at most %d, got %d", ErrInvalidFormat, MaxTotalBits, f.TotalBits)
	case f.IntBits < 1:
		return fmt.Errorf("%w: int_bits must be at least 1 (sign bit), got %d", ErrInvalidFormat, f.IntBits)
	case f.IntBits > f.TotalBits:
		return fmt.Errorf("%w: int_bits %d exceeds total_bits %d (negative fractional bits)", ErrInvalidFormat, f.IntBits, f.TotalBits)
	case f.Round > RoundTrunc:
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f.Round)
	case f.Saturation > SaturateWord:
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f.Saturation)
	}
	return nil
}

// FracBits is TotalBits - IntBits.
func (f Format) FracBits() int { return f.TotalBits - f.IntBits }

// Scale is 2^FracBits.
func (f Format) Scale() float64 { return math.Ldexp(1, f.FracBits()) }

// QMin is the lowest representable value in integer units, -2^(IntBits-1).
func (f Format) QMin() float64 { return -math.Ldexp(1, f.IntBits-1) }

// QMax is the highest integer-unit bound, 2^(IntBits-1)-1.
func (f Format) QMax() float64 { return math.Ldexp(1, f.IntBits-1) - 1 }

// GridBounds returns the clamp interval on the scaled (pre-division) grid.
func (f Format) GridBounds() (lo, hi float64) {
	if f.Saturation == SaturateWord {
		half := math.Ldexp(1, f.TotalBits-1)
		return -half, half - 1
	}
	scale := f.Scale()
	return f.QMin() * scale, f.QMax() * scale
}

// Range returns the closed interval every dequantized value lies in.
func (f Format) Range() (lo, hi float64) {
	glo, ghi := f.GridBounds()
	scale := f.Scale()
	return glo / scale, ghi / scale
}

// Step is the grid spacing 1/Scale.
func (f Format) Step() float64 { return 1 / f.Scale() }

// Quantize maps one weight through round, clamp and dequantize. NaN stays
// NaN; infinities saturate.
func (f Format) Quantize(w float32) float32 {
	q, _ := f.quantize(float64(w))
	return float32(q)
}

// QuantizeSlice writes the quantized form of src into dst and returns the
// number of elements that hit a clamp bound. dst and src may alias.
func (f Format) QuantizeSlice(dst, src []float32) int {
	if len(dst) < len(src) {
		panic("fixedpoint: dst shorter than src")
	}
	saturated := 0
	for i, w := range src {
		q, clamped := f.quantize(float64(w))
		if clamped {
			saturated++
		}
		dst[i] = float32(q)
	}
	return saturated
}

// QuantizeSlice64 is QuantizeSlice for float64 storage.
func (f Format) QuantizeSlice64(dst, src []float64) int {
	if len(dst) < len(src) {
		panic("fixedpoint: dst shorter than src")
	}
	saturated := 0
	for i, w := range src {
		q, clamped := f.quantize(w)
		if clamped {
			saturated++
		}
		dst[i] = q
	}
	return saturated
}

func (f Format) quantize(w float64) (float64, bool) {
	if math.IsNaN(w) {
		return w, false
	}
	scale := f.Scale()
	lo, hi := f.GridBounds()
	// round first, clamp second
	v := f.round(w * scale)
	clamped := false
	if v < lo {
		v, clamped = lo, true
	} else if v > hi {
		v, clamped = hi, true
	}
	return v / scale, clamped
}

func (f Format) round(x float64) float64 {
	switch f.Round {
	case RoundHalfUp:
		// x+0.5 is inexact just below one half
		r := math.Floor(x)
		if x-r >= 0.5 {
			r++
		}
		return r
	case RoundTrunc:
		return math.Floor(x)
	default:
		return math.RoundToEven(x)
	}
}

// String renders the Vitis type name, e.g. ap_fixed<8,4>. Non-default
// modes are appended.
func (f Format) String() string {
	s := fmt.Sprintf("ap_fixed<%d,%d>", f.TotalBits, f.IntBits)
	if f.Round != RoundHalfEven || f.Saturation != SaturateIntRange {
		s += "[" + f.Round.String() + "," + f.Saturation.String() + "]"
	}
	return s
}

// Parse reads "8,4", "8/4" or "ap_fixed<8,4>" and validates the result.
func Parse(s string) (Format, error) {
	in := strings.TrimSpace(s)
	in = strings.TrimPrefix(in, "ap_fixed")
	in = strings.TrimPrefix(in, "<")
	in = strings.TrimSuffix(in, ">")
	parts := strings.FieldsFunc(in, func(r rune) bool { return r == ',' || r == '/' || r == ':' })
	if len(parts) != 2 {
		return Format{}, fmt.Errorf("%w: cannot parse %q (want total,int)", ErrInvalidFormat, s)
	}
	total, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Format{}, fmt.Errorf("%w: total_bits in %q: %v", ErrInvalidFormat, s, err)
	}
	intBits, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Format{}, fmt.Errorf("%w: int_bits in %q: %v", ErrInvalidFormat, s, err)
	}
	return New(total, intBits)
}
