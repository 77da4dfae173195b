package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/requant/internal/profile"
)

type profileRow struct {
	Name      string   `json:"name"`
	Default   bool     `json:"default"`
	Blacklist []string `json:"blacklist"`
	FP8       []string `json:"fp8,omitempty"`
}

func profilesCmd() *cli.Command {
	var jsonOut bool

	return &cli.Command{
		Name:  "profiles",
		Usage: "List architecture profiles and their routing tables",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &jsonOut},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(profileRows())
			}
			printProfiles(os.Stdout)
			return nil
		},
	}
}

func profileRows() []profileRow {
	def := profile.Default().Name
	var rows []profileRow
	for _, p := range profile.All() {
		rows = append(rows, profileRow{
			Name:      p.Name,
			Default:   p.Name == def,
			Blacklist: p.Blacklist,
			FP8:       p.FP8,
		})
	}
	return rows
}

func printProfiles(w io.Writer) {
	for _, r := range profileRows() {
		name := r.Name
		if r.Default {
			name += " (default)"
		}
		_, _ = fmt.Fprintln(w, name)
		_, _ = fmt.Fprintf(w, "  keep bf16: %s\n", strings.Join(r.Blacklist, ", "))
		if len(r.FP8) > 0 {
			_, _ = fmt.Fprintf(w, "  fp8:       %s\n", strings.Join(r.FP8, ", "))
		}
	}
}
