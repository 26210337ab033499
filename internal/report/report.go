// Package report renders simulator output for terminals (tables) and for
// files (JSON documents stamped with a run id).
package report

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/quantize"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/simulator"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/version"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// Tensors lists every tensor with its value range.
func Tensors(w io.Writer, set *params.Set) {
	table := newTable(w, []string{"NAME", "DTYPE", "SHAPE", "WEIGHT", "MIN", "MAX"})
	for _, t := range set.Tensors() {
		lo, hi := "-", "-"
		if t.IsFloat() && len(t.F32) > 0 {
			mn, mx := slices.Min(t.F32), slices.Max(t.F32)
			lo, hi = num(float64(mn)), num(float64(mx))
		}
		weight := ""
		if t.IsWeight() {
			weight = "yes"
		}
		table.Append([]string{t.Name, string(t.DType), shape(t.Shape), weight, lo, hi})
	}
	table.Render()
}

// Quantization prints per-tensor error statistics followed by totals.
func Quantization(w io.Writer, r *quantize.Report) {
	rlo, rhi := r.Format.Range()
	fmt.Fprintf(w, "format %s  range [%s, %s]  step %s  saturated %.2f%%\n\n",
		r.Type, num(rlo), num(rhi), num(r.Format.Step()), 100*r.SaturationRate())
	table := newTable(w, []string{"TENSOR", "SHAPE", "ELEMENTS", "SATURATED", "MAX ERR", "RMSE", "SQNR"})
	for _, s := range r.Tensors {
		if !s.Quantized {
			continue
		}
		table.Append([]string{
			s.Name, shape(s.Shape), strconv.Itoa(s.Elements),
			count(s.Saturated, s.Elements), num(s.MaxAbsErr), num(s.RMSE), db(float64(s.SQNR)),
		})
	}
	t := r.Totals
	table.Append([]string{
		"total", "", strconv.Itoa(t.Elements),
		count(t.Saturated, t.Elements), num(t.MaxAbsErr), num(t.RMSE), db(float64(t.SQNR)),
	})
	table.Render()
}

// Simulation prints a single accuracy line.
func Simulation(w io.Writer, r *simulator.Result) {
	fmt.Fprintf(w, "%s  accuracy %.2f%%  (%d/%d)  loss %.4f\n", r.Type, r.Accuracy, r.Correct, r.Total, r.Loss)
}

// Sweep prints one row per format with the accuracy delta to fp32.
func Sweep(w io.Writer, s *simulator.SweepResult) {
	table := newTable(w, []string{"FORMAT", "RANGE", "STEP", "ACCURACY", "DELTA", "SATURATED", "RMSE"})
	b := s.Baseline
	table.Append([]string{b.Type, "-", "-", pct(b.Accuracy), "-", "-", "-"})
	for _, row := range s.Rows {
		f := row.Format
		rlo, rhi := f.Range()
		sat, rmse := "-", "-"
		if row.Report != nil {
			sat = count(row.Report.Totals.Saturated, row.Report.Totals.Elements)
			rmse = num(row.Report.Totals.RMSE)
		}
		table.Append([]string{
			row.Type,
			"[" + num(rlo) + ", " + num(rhi) + "]",
			num(f.Step()),
			pct(row.Accuracy),
			fmt.Sprintf("%+.2f", row.Delta),
			sat,
			rmse,
		})
	}
	table.Render()
}

func shape(s []int) string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', 5, 64) }

func pct(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) + "%" }

func db(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + " dB"
}

func count(n, total int) string {
	if n == 0 {
		return "0"
	}
	return fmt.Sprintf("%d (%.2f%%)", n, 100*float64(n)/float64(max(total, 1)))
}

// Document is the JSON file written by --json.
type Document struct {
	RunID     string       `json:"run_id"`
	Command   string       `json:"command"`
	Version   version.Info `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Result    any          `json:"result"`
}

// NewDocument stamps result with a fresh run id.
func NewDocument(command string, result any, now time.Time) Document {
	return Document{
		RunID:     uuid.NewString(),
		Command:   command,
		Version:   version.Resolve(),
		CreatedAt: now.UTC(),
		Result:    result,
	}
}

func (d Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}
