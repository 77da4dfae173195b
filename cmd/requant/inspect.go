package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/requant/internal/convert"
	"github.com/samcharles93/requant/internal/manifest"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/safetensors"
	"github.com/samcharles93/requant/internal/tensor"
)

func inspectCmd() *cli.Command {
	var (
		modelPath    string
		showMetadata bool
		showManifest bool
		showPlan     bool
		showStats    bool
		tensorLimit  int
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the header, metadata and quantization manifest of a .safetensors file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .safetensors file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "metadata", Usage: "show the raw metadata table", Destination: &showMetadata},
			&cli.BoolFlag{Name: "manifest", Usage: "list every manifest layer", Destination: &showManifest},
			&cli.BoolFlag{Name: "plan", Usage: "show how --profile would route each tensor", Destination: &showPlan},
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "profile for --plan", Destination: &profileName},
			&cli.BoolFlag{Name: "stats", Usage: "read the listed tensors and show amax and the fp8 scale", Destination: &showStats},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cfg := loadedConfig; cfg.Profile != "" && !cmd.IsSet("profile") {
				profileName = cfg.Profile
			}

			stat, err := os.Stat(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			f, err := safetensors.Open(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Printf("Safetensors Inspect: %s\n", modelPath)
			fmt.Printf("File: %s (%s)\n", filepath.Base(modelPath), formatModelSize(stat.Size()))
			row("tensors", strconv.Itoa(len(f.Tensors)))
			row("data offset", strconv.FormatInt(f.DataStart, 10))
			row("dtypes", dtypeSummary(f))

			printManifest(f.Metadata, showManifest)
			if showMetadata {
				printMetadata(f.Metadata)
			}
			printTensors(f, tensorFilter, tensorLimit)
			if showStats {
				section("Stats")
				printStats(os.Stdout, f, tensorFilter, tensorLimit)
			}

			if showPlan {
				prof, err := profile.Lookup(profileName)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				section("Plan")
				printPlan(os.Stdout, prof, convert.PlanFile(f, prof))
			}
			return nil
		},
	}
}

func dtypeSummary(f *safetensors.File) string {
	counts := map[string]int{}
	for _, info := range f.Tensors {
		counts[string(info.DType)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

func printManifest(md map[string]string, all bool) {
	section("Quantization Manifest")
	m, err := manifest.FromMetadata(md)
	if errors.Is(err, manifest.ErrMissing) {
		fmt.Println("(none)")
		return
	}
	if err != nil {
		fmt.Printf("(manifest parse error: %v)\n", err)
		return
	}
	counts := m.Counts()
	row("format_version", m.FormatVersion)
	row("layers", strconv.Itoa(m.Len()))
	row(manifest.FormatNVFP4, strconv.Itoa(counts[manifest.FormatNVFP4]))
	row(manifest.FormatFP8, strconv.Itoa(counts[manifest.FormatFP8]))
	if !all {
		return
	}
	for _, name := range m.LayerNames() {
		format, _ := m.Format(name)
		fmt.Printf("%s  %s\n", name, format)
	}
}

func printMetadata(md map[string]string) {
	section("Metadata")
	if len(md) == 0 {
		fmt.Println("(empty)")
		return
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %s\n", k, md[k])
	}
}

func printTensors(f *safetensors.File, filter string, limit int) {
	section("Tensors")
	names := f.Names()
	printed := 0
	for _, name := range names {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		info, _ := f.Tensor(name)
		fmt.Printf("%s  dtype=%s shape=%s size=%s\n", name, info.DType, formatShape(info.Shape), formatModelSize(info.Size()))
		printed++
		if limit > 0 && printed >= limit {
			break
		}
	}
	if limit > 0 && printed < len(names) {
		fmt.Printf("... (%d shown of %d)\n", printed, len(names))
	}
}

// printStats reads each selected tensor and reports its absolute maximum and
// the bf16 scale an fp8 conversion would store. Undecodable tensors are listed
// with the reason instead.
func printStats(w io.Writer, f *safetensors.File, filter string, limit int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TENSOR\tDTYPE\tAMAX\tFP8 SCALE")
	printed := 0
	for _, name := range f.Names() {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		if limit > 0 && printed >= limit {
			break
		}
		printed++
		info, _ := f.Tensor(name)
		vals, _, err := f.ReadTensorF32(name)
		if err != nil {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t-\t(%v)\n", name, info.DType, err)
			continue
		}
		var amax float32
		for _, v := range vals {
			amax = max(amax, abs32(v))
		}
		scale := tensor.BF16Value(convert.FP8Scale(vals))
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%g\t%g\n", name, info.DType, amax, scale)
	}
	_ = tw.Flush()
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-24s %s\n", label+":", value)
}
