package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/requant/internal/logger"
	"github.com/samcharles93/requant/internal/manifest"
	"github.com/samcharles93/requant/internal/registry"
	"github.com/samcharles93/requant/internal/safetensors"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List checkpoints in the models directory",
		Flags:   []cli.Flag{modelsPathFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyConversionConfig(cmd, loadedConfig)

			dir, err := resolveModelsDir(modelsPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			reg := registry.New(dir)
			models, err := reg.List(registry.DiffusionModels)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, name := range models {
				path, err := reg.Resolve(registry.DiffusionModels, name)
				if err != nil {
					fmt.Printf("  %s\n", name)
					continue
				}
				info, err := os.Stat(path)
				if err != nil {
					fmt.Printf("  %s\n", name)
					continue
				}
				size := formatModelSize(info.Size())
				if q := quantSummary(path); q != "" {
					fmt.Printf("  %-48s %8s  (%s)\n", name, size, q)
				} else {
					fmt.Printf("  %-48s %8s\n", name, size)
				}
			}
			fmt.Printf("\n%d model(s) found\n", len(models))
			return nil
		},
	}
}

// quantSummary describes the manifest of an already converted checkpoint,
// or returns "" when there is none.
func quantSummary(path string) string {
	f, err := safetensors.Open(path)
	if err != nil {
		return ""
	}
	m, err := manifest.FromMetadata(f.Metadata)
	if errors.Is(err, manifest.ErrMissing) {
		return ""
	}
	if err != nil {
		return "invalid manifest"
	}
	counts := m.Counts()
	return fmt.Sprintf("%d nvfp4, %d fp8 layers", counts[manifest.FormatNVFP4], counts[manifest.FormatFP8])
}

func formatModelSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
