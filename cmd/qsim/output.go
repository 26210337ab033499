package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/report"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/version"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

// writeDocument writes result as a JSON run document to path ("-" for
// stdout) and returns its run id.
func writeDocument(ctx context.Context, path, command string, result any) (string, error) {
	doc := report.NewDocument(command, result, time.Now())
	if path == "-" {
		return doc.RunID, doc.Write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := doc.Write(f); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Info("report written", "path", path, "run_id", doc.RunID)
	return doc.RunID, nil
}

// formatMetadata is stored in the header of quantized checkpoints.
func formatMetadata(f fixedpoint.Format, runID string) map[string]string {
	m := map[string]string{
		"format":       f.String(),
		"total_bits":   strconv.Itoa(f.TotalBits),
		"int_bits":     strconv.Itoa(f.IntBits),
		"round":        f.Round.String(),
		"saturation":   f.Saturation.String(),
		"qsim_version": version.String(),
	}
	if runID != "" {
		m["run_id"] = runID
	}
	return m
}
