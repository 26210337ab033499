// Package api serves the quantization simulator over HTTP.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/dataset"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/model"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/params"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/quantize"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/simulator"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/version"
)

// Workspace is everything loaded at startup. Params is never modified.
type Workspace struct {
	Params *params.Set
	Arch   model.Arch
	// Dataset may be nil; evaluation endpoints then answer 409.
	Dataset   dataset.Source
	Workers   int
	BatchSize int
}

type Server struct {
	ws    Workspace
	store *RunStore
	clock func() time.Time
	// one evaluation at a time; each already uses every core
	evalMu sync.Mutex
}

func NewServer(ws Workspace, store *RunStore) *Server {
	if store == nil {
		store = NewRunStore(0)
	}
	return &Server{ws: ws, store: store, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/tensors", s.handleTensors)
	e.POST("/v1/quantize", s.handleQuantize)
	e.POST("/v1/evaluate", s.handleEvaluate)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, Health{
		Status:  "ok",
		Version: version.String(),
		Dataset: s.ws.Dataset != nil,
	})
}

func (s *Server) handleTensors(c *echo.Context) error {
	out := TensorList{Object: "list", Data: make([]TensorInfo, 0, s.ws.Params.Len())}
	for _, t := range s.ws.Params.Tensors() {
		out.Data = append(out.Data, TensorInfo{
			Name:     t.Name,
			DType:    string(t.DType),
			Shape:    t.Shape,
			Elements: t.Elements(),
			Weight:   t.IsWeight(),
		})
		if t.IsWeight() {
			out.Weights++
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleQuantize(c *echo.Context) error {
	req, err := decodeJSON[FormatRequest](c.Request().Body)
	if err != nil {
		return writeServiceError(c, err)
	}
	f, err := req.Format()
	if err != nil {
		return writeServiceError(c, err)
	}
	ctx := c.Request().Context()
	_, report, err := quantize.Apply(ctx, s.ws.Params, f, quantize.WithWorkers(s.ws.Workers))
	if err != nil {
		return writeServiceError(c, err)
	}
	run := s.store.Create(Run{Kind: "quantize", Report: report}, s.clock())
	logger.FromContext(ctx).Info("quantize run", "id", run.ID, "format", f.String(), "saturated", report.Totals.Saturated)
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleEvaluate(c *echo.Context) error {
	req, err := decodeJSON[EvaluateRequest](c.Request().Body)
	if err != nil {
		return writeServiceError(c, err)
	}
	if err := req.validate(); err != nil {
		return writeServiceError(c, err)
	}
	cfg := simulator.Config{
		Params:    s.ws.Params,
		Arch:      s.ws.Arch,
		Dataset:   s.ws.Dataset,
		Workers:   s.ws.Workers,
		BatchSize: s.ws.BatchSize,
		Limit:     req.Limit,
	}
	if !req.FP32 {
		if cfg.Format, err = req.Format(); err != nil {
			return writeServiceError(c, err)
		}
	}
	if s.ws.Dataset == nil {
		return writeServiceError(c, ErrNoDataset)
	}

	ctx := c.Request().Context()
	s.evalMu.Lock()
	var res *simulator.Result
	if req.FP32 {
		res, err = simulator.Baseline(ctx, cfg)
	} else {
		res, err = simulator.Run(ctx, cfg)
	}
	s.evalMu.Unlock()
	if err != nil {
		return writeServiceError(c, err)
	}
	res.Quantized = nil
	run := s.store.Create(Run{Kind: "evaluate", Simulation: res}, s.clock())
	logger.FromContext(ctx).Info("evaluate run", "id", run.ID, "type", res.Type, "accuracy", res.Accuracy)
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return c.JSON(http.StatusOK, RunList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	run, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "run not found")
	}
	return c.JSON(http.StatusOK, DeleteRunResp{ID: id, Object: "run", Deleted: true})
}

// WithLogger stores log in every request context so handlers and the
// simulator log through it.
func WithLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			r := c.Request()
			c.SetRequest(r.WithContext(logger.WithContext(r.Context(), log)))
			return next(c)
		}
	}
}
