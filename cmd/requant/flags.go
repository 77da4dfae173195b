package main

import "github.com/urfave/cli/v3"

var (
	modelsPath  string
	profileName string
	deviceName  string
	logLevel    string
	logFormat   string
	debug       bool
)

func modelsPathFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "models-path",
		Aliases:     []string{"path"},
		Usage:       "models directory containing diffusion_models/ (or unet/)",
		Destination: &modelsPath,
	}
}

func conversionFlags() []cli.Flag {
	return []cli.Flag{
		modelsPathFlag(),
		&cli.StringFlag{
			Name:        "profile",
			Aliases:     []string{"model-type", "p"},
			Usage:       "architecture profile (see `requant profiles`)",
			Destination: &profileName,
		},
		&cli.StringFlag{
			Name:        "device",
			Aliases:     []string{"d"},
			Usage:       "compute device (cuda, cpu)",
			Destination: &deviceName,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
