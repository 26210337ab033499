package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/dataset"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/model"
)

const tinyArchYAML = `
name: tiny
input_size: 8
in_channels: 3
num_classes: 3
layers:
  - {name: conv1, kind: conv, out_channels: 4, kernel: 3, stride: 1, padding: 1}
  - {kind: maxpool, kernel: 2, stride: 2}
  - {name: conv10, kind: conv, out_channels: 3, kernel: 1, stride: 1}
  - {kind: avgpool}
`

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestEcho(t *testing.T, withData bool) *echo.Echo {
	t.Helper()
	arch, err := model.ParseArch([]byte(tinyArchYAML))
	if err != nil {
		t.Fatalf("ParseArch: %v", err)
	}
	set, err := model.Init(arch, 5)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ws := Workspace{Params: set, Arch: arch, Workers: 2, BatchSize: 8}
	if withData {
		ws.Dataset = dataset.Synthetic(24, 3, 8, 9)
	}
	e := echo.New()
	NewServer(ws, nil).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthAndTensors(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)

	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodGet, "/v1/tensors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tensors status: got %d body=%s", rec.Code, rec.Body.String())
	}
	list := decode[TensorList](t, rec)
	if len(list.Data) != 4 || list.Weights != 2 {
		t.Fatalf("expected 4 tensors with 2 weights, got %+v", list)
	}
	if list.Data[0].Name != "conv1.weight" || !list.Data[0].Weight || list.Data[0].Elements != 4*3*3*3 {
		t.Fatalf("unexpected first tensor: %+v", list.Data[0])
	}
}

func TestQuantizeRunLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)

	rec := doJSON(t, e, http.MethodPost, "/v1/quantize", `{"total_bits":6,"int_bits":2,"round":"half_up"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("quantize status: got %d body=%s", rec.Code, rec.Body.String())
	}
	run := decode[Run](t, rec)
	if !strings.HasPrefix(run.ID, "run_") || run.Kind != "quantize" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Report == nil || run.Report.Type != "ap_fixed<6,2>[half_up,int]" || run.Report.Totals.Tensors != 2 {
		t.Fatalf("unexpected report: %+v", run.Report)
	}

	rec = doJSON(t, e, http.MethodGet, "/v1/runs/"+run.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodGet, "/v1/runs", "")
	if got := decode[RunList](t, rec); len(got.Data) != 1 || got.Data[0].ID != run.ID {
		t.Fatalf("unexpected run list: %+v", got)
	}

	rec = doJSON(t, e, http.MethodDelete, "/v1/runs/"+run.ID, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete: got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodGet, "/v1/runs/"+run.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestQuantizeValidationErrors(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)

	tests := []struct {
		body string
		want string
	}{
		{`{"total_bits":4,"int_bits":8}`, "negative fractional bits"},
		{`{"total_bits":8,"int_bits":4,"round":"sideways"}`, "unknown rounding mode"},
		{`{"total_bits":8,"int_bits":4,"bits":3}`, "decode request"},
	}
	for _, tt := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/quantize", tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%s", tt.body, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), tt.want) || !strings.Contains(rec.Body.String(), "invalid_request_error") {
			t.Fatalf("%s: unexpected error body: %s", tt.body, rec.Body.String())
		}
	}
}

func TestEvaluateWithoutDataset(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, false)
	rec := doJSON(t, e, http.MethodPost, "/v1/evaluate", `{"total_bits":8,"int_bits":4}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rec.Code, rec.Body.String())
	}
	// format errors win over the missing dataset
	rec = doJSON(t, e, http.MethodPost, "/v1/evaluate", `{"total_bits":2,"int_bits":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, true)

	rec := doJSON(t, e, http.MethodPost, "/v1/evaluate", `{"total_bits":16,"int_bits":4,"limit":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status: got %d body=%s", rec.Code, rec.Body.String())
	}
	run := decode[Run](t, rec)
	if run.Simulation == nil || run.Simulation.Total != 10 || run.Simulation.Report == nil {
		t.Fatalf("unexpected simulation: %+v", run.Simulation)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/evaluate", `{"fp32":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("fp32 status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if run := decode[Run](t, rec); run.Simulation.Type != "fp32" || run.Simulation.Total != 24 {
		t.Fatalf("unexpected fp32 simulation: %+v", run.Simulation)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/evaluate", `{"limit":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestRunStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewRunStore(2)
	var ids []string
	for range 3 {
		ids = append(ids, s.Create(Run{Kind: "quantize"}, testNow).ID)
	}
	if _, ok := s.Get(ids[0]); ok {
		t.Fatalf("expected oldest run to be evicted")
	}
	list := s.List()
	if len(list) != 2 || list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Fatalf("unexpected list order: %+v", list)
	}
	if s.Delete(ids[0]) {
		t.Fatalf("deleting an evicted run should fail")
	}
}

func TestWithLoggerReachesHandlers(t *testing.T) {
	t.Parallel()
	arch, err := model.ParseArch([]byte(tinyArchYAML))
	if err != nil {
		t.Fatalf("ParseArch: %v", err)
	}
	set, err := model.Init(arch, 5)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	var buf bytes.Buffer
	e := echo.New()
	e.Use(WithLogger(logger.New(&buf, logger.Options{Format: logger.FormatJSON})))
	NewServer(Workspace{Params: set, Arch: arch}, nil).Register(e)

	rec := doJSON(t, e, http.MethodPost, "/v1/quantize", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("quantize status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(buf.String(), `"msg":"quantize run"`) {
		t.Fatalf("expected handler log line, got: %s", buf.String())
	}
}
