package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samcharles93/requant/internal/registry"
)

const envRequantModelsDir = "REQUANT_MODELS_DIR"

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

func resolveModelsDir(flag string) (string, error) {
	dir := strings.TrimSpace(flag)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envRequantModelsDir))
	}
	if dir == "" {
		return "", fmt.Errorf("--models-path is required unless %s is set", envRequantModelsDir)
	}
	return filepath.Clean(dir), nil
}

// resolveCheckpoint returns the archive to operate on: an explicit path,
// a registry name, or, with neither, the only model in the registry or an
// interactive pick.
func resolveCheckpoint(input, name, modelsDir string, stdin io.Reader, stderr io.Writer) (string, error) {
	if input = strings.TrimSpace(input); input != "" {
		return filepath.Clean(input), nil
	}
	if modelsDir == "" {
		return "", fmt.Errorf("--input or --models-path is required unless %s is set", envRequantModelsDir)
	}
	reg := registry.New(modelsDir)
	if name = strings.TrimSpace(name); name != "" {
		return reg.Resolve(registry.DiffusionModels, name)
	}

	models, err := reg.List(registry.DiffusionModels)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no checkpoints found under %s", filepath.Join(modelsDir, registry.DiffusionModels))
	case 1:
		_, _ = fmt.Fprintf(stderr, "using model %s\n", models[0])
		return reg.Resolve(registry.DiffusionModels, models[0])
	default:
		if !stdinIsTTY() {
			return "", fmt.Errorf("multiple models found in %s but stdin is not interactive; set --model", modelsDir)
		}
		picked, err := selectModelInteractively(models, stdin, stderr)
		if err != nil {
			return "", err
		}
		return reg.Resolve(registry.DiffusionModels, picked)
	}
}

func selectModelInteractively(models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	if len(models) == 0 {
		return "", errors.New("no models available")
	}

	_, _ = fmt.Fprintln(stderr, "select a model:")
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, m)
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "enter selection [1-%d]: ", len(models))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no selection provided on stdin; set --model")
			}
			continue
		}

		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(models) {
			_, _ = fmt.Fprintf(stderr, "invalid selection %q\n", line)
			if errors.Is(err, io.EOF) {
				return "", errors.New("invalid selection provided on stdin; set --model")
			}
			continue
		}
		return models[idx-1], nil
	}
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
