package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeModels(t *testing.T, root string, names ...string) string {
	t.Helper()
	dir := filepath.Join(root, "diffusion_models")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write model %s: %v", name, err)
		}
	}
	return dir
}

func TestResolveModelsDir(t *testing.T) {
	t.Run("flag wins over env", func(t *testing.T) {
		t.Setenv(envRequantModelsDir, "/env/models")
		got, err := resolveModelsDir(" /flag/models/ ")
		if err != nil {
			t.Fatalf("resolveModelsDir returned error: %v", err)
		}
		if got != filepath.Clean("/flag/models") {
			t.Fatalf("unexpected dir: got %q", got)
		}
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv(envRequantModelsDir, "/env/models")
		got, err := resolveModelsDir("")
		if err != nil {
			t.Fatalf("resolveModelsDir returned error: %v", err)
		}
		if got != filepath.Clean("/env/models") {
			t.Fatalf("unexpected dir: got %q", got)
		}
	})

	t.Run("neither set", func(t *testing.T) {
		t.Setenv(envRequantModelsDir, "")
		if _, err := resolveModelsDir(""); err == nil {
			t.Fatal("expected error without flag or env")
		}
	})
}

func TestResolveCheckpoint(t *testing.T) {
	t.Run("input path bypasses registry", func(t *testing.T) {
		got, err := resolveCheckpoint("/tmp/model.safetensors", "ignored", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveCheckpoint returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/model.safetensors") {
			t.Fatalf("unexpected path: got %q", got)
		}
	})

	t.Run("named model resolves in diffusion_models", func(t *testing.T) {
		root := t.TempDir()
		dir := writeModels(t, root, "a.safetensors", "b.safetensors")
		got, err := resolveCheckpoint("", "b.safetensors", root, bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveCheckpoint returned error: %v", err)
		}
		if want := filepath.Join(dir, "b.safetensors"); got != want {
			t.Fatalf("unexpected path: got %q want %q", got, want)
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		root := t.TempDir()
		dir := writeModels(t, root, "only.safetensors")

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveCheckpoint("", "", root, bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveCheckpoint returned error: %v", err)
		}
		if want := filepath.Join(dir, "only.safetensors"); got != want {
			t.Fatalf("unexpected path: got %q want %q", got, want)
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		root := t.TempDir()
		writeModels(t, root, "a.safetensors", "b.safetensors")

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		if _, err := resolveCheckpoint("", "", root, bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when multiple models and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		root := t.TempDir()
		dir := writeModels(t, root, "b.safetensors", "a.safetensors")

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return true }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveCheckpoint("", "", root, bytes.NewBufferString("7\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveCheckpoint returned error: %v", err)
		}
		if want := filepath.Join(dir, "b.safetensors"); got != want {
			t.Fatalf("unexpected model selection: got %q want %q", got, want)
		}
	})

	t.Run("empty registry", func(t *testing.T) {
		if _, err := resolveCheckpoint("", "", t.TempDir(), bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error for empty models directory")
		}
	})
}
