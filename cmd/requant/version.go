package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/requant/internal/device"
	"github.com/samcharles93/requant/internal/quant"
	"github.com/samcharles93/requant/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("go:         %s %s\n", info.GoVersion, info.Platform)
			if len(info.Tags) > 0 {
				fmt.Printf("tags:       %s\n", strings.Join(info.Tags, ","))
			}
			fmt.Printf("devices:    %s (default %s)\n", device.Available(), device.Default())
			backend := quant.Default()
			if err := backend.Available(); err != nil {
				fmt.Printf("backend:    unavailable (%v)\n", err)
			} else {
				fmt.Printf("backend:    %s\n", backend.Name())
			}
			return nil
		},
	}
}
