package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/requant/internal/safetensors"
	"github.com/samcharles93/requant/internal/tensor"
)

func TestPrintStats(t *testing.T) {
	ckpt := safetensors.NewCheckpoint()
	ckpt.Set("blocks.0.attn.weight", tensor.FromFloat32BF16([]int{2, 2}, []float32{0.5, -1, 0.25, 0}))
	ckpt.Set("blocks.0.attn.bias", tensor.FromFloat32([]int{2}, []float32{448, 2}))
	ckpt.Set("blocks.0.attn.weight_scale_2", tensor.Tensor{DType: tensor.U8, Shape: []int{1}, Data: []byte{1}})
	ckpt.Set("final.weight", tensor.FromFloat32([]int{1}, []float32{9}))
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := safetensors.Save(path, ckpt); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := safetensors.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var buf bytes.Buffer
	printStats(&buf, f, "blocks.0", 0)
	out := buf.String()

	for _, want := range []string{
		"TENSOR",
		"blocks.0.attn.bias",
		"448",
		"0.0022277832",
		"unsupported",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "final.weight") {
		t.Fatalf("filter ignored:\n%s", out)
	}

	buf.Reset()
	printStats(&buf, f, "", 1)
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("limit 1 printed %d lines:\n%s", lines, buf.String())
	}
}
