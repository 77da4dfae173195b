package profile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLookup(t *testing.T) {
	t.Parallel()
	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if p.Name != name {
			t.Fatalf("Lookup(%q) returned %q", name, p.Name)
		}
	}

	p, err := Lookup("")
	if err != nil || p.Name != "Z-Image" {
		t.Fatalf("empty lookup: got %q err=%v, want Z-Image", p.Name, err)
	}

	if _, err := Lookup("z-image"); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("lookup is case-sensitive; got err=%v", err)
	}
}

func TestNamesOrder(t *testing.T) {
	t.Parallel()
	want := []string{
		"Z-Image", "Flux.1", "Flux.1 Fill", "Flux.2",
		"Qwen-Image-Edit-2511", "Qwen-Image-2512", "Wan2.2-i2v-high-low",
	}
	if diff := cmp.Diff(want, Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestBlacklisted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		profile string
		name    string
		want    bool
	}{
		{"Z-Image", "model.diffusion_model.x_embedder.weight", true},
		{"Z-Image", "model.diffusion_model.layers.0.attention.qkv.weight", false},
		{"Z-Image", "model.diffusion_model.X_embedder.weight", false},
		{"Flux.1", "double_blocks.0.img_attn.qkv.weight", false},
		{"Flux.1", "img_in.weight", true},
		{"Flux.2", "double_stream_modulation_img.lin.weight", true},
		{"Qwen-Image-Edit-2511", "transformer_blocks.3.img_mod.1.weight", false},
		{"Qwen-Image-2512", "transformer_blocks.3.img_mod.1.weight", true},
		{"Wan2.2-i2v-high-low", "blocks.0.self_attn.q.weight", false},
		{"Wan2.2-i2v-high-low", "head.head.weight", true},
		// unanchored: matches inside nested segments
		{"Wan2.2-i2v-high-low", "blocks.0.cross_attn.multihead.weight", true},
	}
	for _, tc := range tests {
		p, err := Lookup(tc.profile)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", tc.profile, err)
		}
		if got := p.Blacklisted(tc.name); got != tc.want {
			t.Errorf("%s Blacklisted(%q) = %v, want %v", tc.profile, tc.name, got, tc.want)
		}
	}
}

func TestWantsFP8(t *testing.T) {
	t.Parallel()
	qwen, _ := Lookup("Qwen-Image-2512")
	if !qwen.WantsFP8("transformer_blocks.0.txt_mlp.net.0.proj.weight") {
		t.Fatal("txt_mlp should route to fp8")
	}
	if !qwen.WantsFP8("transformer_blocks.0.txt_mod.1.weight") {
		t.Fatal("txt_mod should route to fp8")
	}
	if qwen.WantsFP8("transformer_blocks.0.img_mlp.net.0.proj.weight") {
		t.Fatal("img_mlp should not route to fp8")
	}
	for _, p := range All() {
		if p.Name == "Qwen-Image-2512" {
			continue
		}
		if p.WantsFP8("transformer_blocks.0.txt_mlp.net.0.proj.weight") {
			t.Fatalf("%s has no fp8 table but routed to fp8", p.Name)
		}
	}
}

func TestLayerName(t *testing.T) {
	t.Parallel()
	p := Default()
	if got := p.LayerName("model.diffusion_model.layers.0.ff"); got != "layers.0.ff" {
		t.Fatalf("prefixed key: got %q", got)
	}
	if got := p.LayerName("layers.0.ff"); got != "layers.0.ff" {
		t.Fatalf("unprefixed key must be unchanged: got %q", got)
	}
	// only a leading prefix is stripped
	if got := p.LayerName("x.model.diffusion_model.ff"); got != "x.model.diffusion_model.ff" {
		t.Fatalf("embedded prefix must be kept: got %q", got)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	t.Parallel()
	all := All()
	all[0].Name = "mutated"
	if Default().Name != "Z-Image" {
		t.Fatal("All must not expose the package table")
	}
}
