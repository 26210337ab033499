package api

import (
	"fmt"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/quantize"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/simulator"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

// FormatRequest selects the fixed-point format. Zero bit widths fall back
// to ap_fixed<8,4>.
type FormatRequest struct {
	TotalBits  int    `json:"total_bits,omitempty"`
	IntBits    int    `json:"int_bits,omitempty"`
	Round      string `json:"round,omitempty"`
	Saturation string `json:"saturation,omitempty"`
}

func (r FormatRequest) Format() (fixedpoint.Format, error) {
	f := fixedpoint.Format{TotalBits: r.TotalBits, IntBits: r.IntBits}
	if f.TotalBits == 0 && f.IntBits == 0 {
		f.TotalBits, f.IntBits = 8, 4
	}
	var err error
	if f.Round, err = fixedpoint.ParseRoundMode(r.Round); err != nil {
		return fixedpoint.Format{}, err
	}
	if f.Saturation, err = fixedpoint.ParseSaturation(r.Saturation); err != nil {
		return fixedpoint.Format{}, err
	}
	return f, f.Validate()
}

type EvaluateRequest struct {
	FormatRequest
	// Limit evaluates only the first Limit examples when positive.
	Limit int `json:"limit,omitempty"`
	// FP32 skips quantization and measures the stored weights.
	FP32 bool `json:"fp32,omitempty"`
}

func (r EvaluateRequest) validate() error {
	if r.Limit < 0 {
		return newInvalidRequest(fmt.Sprintf("limit must be non-negative, got %d", r.Limit))
	}
	return nil
}

type TensorInfo struct {
	Name     string `json:"name"`
	DType    string `json:"dtype"`
	Shape    []int  `json:"shape"`
	Elements int    `json:"elements"`
	Weight   bool   `json:"weight"`
}

type TensorList struct {
	Object  string       `json:"object"`
	Data    []TensorInfo `json:"data"`
	Weights int          `json:"weights"`
}

// Run is a stored quantize or evaluate outcome.
type Run struct {
	ID         string            `json:"id"`
	Object     string            `json:"object"`
	Kind       string            `json:"kind"`
	CreatedAt  int64             `json:"created_at"`
	Report     *quantize.Report  `json:"report,omitempty"`
	Simulation *simulator.Result `json:"simulation,omitempty"`
}

type RunList struct {
	Object string `json:"object"`
	Data   []Run  `json:"data"`
}

type DeleteRunResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Dataset bool   `json:"dataset"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
