package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/requant/internal/api"
	"github.com/samcharles93/requant/internal/convert"
	"github.com/samcharles93/requant/internal/logger"
	"github.com/samcharles93/requant/internal/node"
	"github.com/samcharles93/requant/internal/quant"
	"github.com/samcharles93/requant/internal/registry"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the converter node over HTTP",
		Flags: []cli.Flag{
			modelsPathFlag(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8188",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, loadedConfig, &addr)

			dir, err := resolveModelsDir(modelsPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend := quant.Default()
			if err := backend.Available(); err != nil {
				log.Warn("quantization backend unavailable; conversions will cast to BF16", "error", err)
			}
			reg := registry.New(dir)
			eng := &convert.Engine{
				Models:  reg,
				Backend: backend,
				Logger:  log,
			}
			server := api.NewServer(ctx, node.New(reg, eng), nil, log)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "models", dir)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			err = sc.Start(ctx, e)
			server.Wait()
			return err
		},
	}
}
