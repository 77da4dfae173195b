package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/requant/internal/logger"
)

// loadedConfig is read once by the root Before hook.
var loadedConfig Config

func main() {
	app := &cli.Command{
		Name:   "requant",
		Usage:  "Requantize diffusion checkpoints to NVFP4/FP8",
		Flags:  loggingFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			convertCmd(),
			listModelsCmd(),
			profilesCmd(),
			inspectCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, cfgErr := LoadConfig()
	loadedConfig = cfg
	applyLoggingConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.ForFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if cfgErr != nil {
		log.Warn("ignoring config file", "path", configPath(), "error", cfgErr)
	}
	return logger.WithContext(ctx, log), nil
}
