package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/requant/internal/convert"
	"github.com/samcharles93/requant/internal/logger"
	"github.com/samcharles93/requant/internal/node"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/progress"
	"github.com/samcharles93/requant/internal/quant"
	"github.com/samcharles93/requant/internal/registry"
	"github.com/samcharles93/requant/internal/safetensors"
)

func convertCmd() *cli.Command {
	var (
		modelName  string
		inputPath  string
		outputName string
		dryRun     bool
		jsonOut    bool
	)

	return &cli.Command{
		Name:    "convert",
		Aliases: []string{"quantize"},
		Usage:   "Requantize a checkpoint to NVFP4/FP8 with BF16 for the rest",
		Flags: append(conversionFlags(),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "checkpoint name under diffusion_models/",
				Destination: &modelName,
			},
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to a .safetensors checkpoint (bypasses the models directory)",
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output base name, written next to the input",
				Value:       node.DefaultOutput,
				Destination: &outputName,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "print the routing plan without converting",
				Destination: &dryRun,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the conversion report as JSON",
				Destination: &jsonOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyConversionConfig(cmd, loadedConfig)

			dir := ""
			if strings.TrimSpace(inputPath) == "" {
				var err error
				if dir, err = resolveModelsDir(modelsPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			input, err := resolveCheckpoint(inputPath, modelName, dir, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if dryRun {
				prof, err := profile.Lookup(profileName)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				f, err := safetensors.Open(input)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				printPlan(os.Stdout, prof, convert.PlanFile(f, prof))
				return nil
			}

			backend := quant.Default()
			if err := backend.Available(); err != nil {
				log.Warn("quantization backend unavailable; every tensor will be cast to BF16", "error", err)
			}
			eng := &convert.Engine{
				Models:  registry.New(dir),
				Backend: backend,
				Logger:  log,
			}
			rep, err := eng.RunPath(ctx, input, convert.Request{
				OutputName: outputName,
				Profile:    profileName,
				Device:     deviceName,
				Progress:   progress.ForStderr(log, "requantizing"),
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Println(rep.Status)
			return nil
		},
	}
}

// printPlan writes one row per tensor followed by per-treatment totals.
func printPlan(w io.Writer, prof profile.Profile, plan []convert.Decision) {
	_, _ = fmt.Fprintf(w, "Plan for profile %s:\n\n", prof.Name)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TENSOR\tTREATMENT\tREASON\tOUTPUT KEYS")
	counts := make(map[convert.Treatment]int)
	for _, d := range plan {
		counts[d.Treatment]++
		reason := d.Reason
		if reason == "" {
			reason = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			d.Name, d.Treatment, reason, strings.Join(d.OutputKeys(quant.NVFP4Suffixes()), ", "))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%d tensor(s): %d nvfp4, %d fp8, %d bf16\n",
		len(plan), counts[convert.NVFP4], counts[convert.FP8], counts[convert.BF16])
}
