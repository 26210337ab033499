package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/api"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/dataset"
	"github.com/kkodachi/Vitis-HLS-Convolution/internal/logger"
)

var serveAddr string

func serveCmd() *cli.Command {
	var (
		readTimeout time.Duration
		maxRuns     int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the quantization simulator over HTTP",
		Flags: flagsOf(checkpointFlags(), dataFlags(), runtimeFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &serveAddr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "max-runs",
				Usage:       "runs kept in memory for GET /v1/runs",
				Value:       api.DefaultRunLimit,
				Destination: &maxRuns,
			},
		}),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			arch, err := loadArch()
			if err != nil {
				return err
			}
			set, _, err := loadCheckpoint(ctx)
			if err != nil {
				return err
			}
			ws := api.Workspace{
				Params:    set,
				Arch:      arch,
				Workers:   workers,
				BatchSize: batchSize,
			}
			// the dataset is optional; without it only /v1/quantize works
			if dataDir != "" {
				var src dataset.Source
				if src, err = openDataset(ctx, arch); err != nil {
					return err
				}
				ws.Dataset = src
			} else {
				log.Warn("no dataset configured, /v1/evaluate is disabled")
			}

			server := api.NewServer(ws, api.NewRunStore(maxRuns))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			e.Use(api.WithLogger(log))
			server.Register(e)
			log.Info("starting server", "address", serveAddr)
			sc := echo.StartConfig{
				Address: serveAddr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
