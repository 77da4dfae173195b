// Package profile holds the per-architecture routing tables used when
// requantizing a diffusion checkpoint.
package profile

import (
	"errors"
	"fmt"
	"strings"
)

// DiffusionPrefix is the module prefix host loaders put in front of
// diffusion-model tensor names.
const DiffusionPrefix = "model.diffusion_model."

var ErrUnknownProfile = errors.New("profile: unknown architecture profile")

// Profile is the routing policy for one architecture.
type Profile struct {
	// Name is the user-facing identifier, e.g. "Flux.1 Fill".
	Name string
	// Blacklist substrings exempt a tensor from quantization.
	Blacklist []string
	// FP8 substrings route a linear weight to float8_e4m3fn instead of NVFP4.
	FP8 []string
	// StripPrefix is removed from manifest layer names when present.
	StripPrefix string
}

var (
	zImageBlacklist = []string{"cap_embedder", "x_embedder", "noise_refiner", "context_refiner", "t_embedder", "final_layer"}
	fluxBlacklist   = []string{
		"img_in", "txt_in", "time_in", "vector_in", "guidance_in", "final_layer", "class_embedding",
		"single_stream_modulation", "double_stream_modulation_img", "double_stream_modulation_txt",
	}
	qwenBlacklist = []string{"img_in", "txt_in", "time_text_embed", "norm_out", "proj_out"}
)

// profiles is ordered as presented to users; the first entry is the default.
var profiles = []Profile{
	{Name: "Z-Image", Blacklist: zImageBlacklist, StripPrefix: DiffusionPrefix},
	{Name: "Flux.1", Blacklist: fluxBlacklist, StripPrefix: DiffusionPrefix},
	{Name: "Flux.1 Fill", Blacklist: fluxBlacklist, StripPrefix: DiffusionPrefix},
	{Name: "Flux.2", Blacklist: fluxBlacklist, StripPrefix: DiffusionPrefix},
	{Name: "Qwen-Image-Edit-2511", Blacklist: qwenBlacklist, StripPrefix: DiffusionPrefix},
	{
		Name:        "Qwen-Image-2512",
		Blacklist:   append(append([]string(nil), qwenBlacklist...), "img_mod.1"),
		FP8:         []string{"txt_mlp", "txt_mod"},
		StripPrefix: DiffusionPrefix,
	},
	{
		Name:        "Wan2.2-i2v-high-low",
		Blacklist:   []string{"text_embedding", "time_embedding", "time_projection", "head"},
		StripPrefix: DiffusionPrefix,
	},
}

// All returns every profile in presentation order.
func All() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Names returns the profile identifiers in presentation order.
func Names() []string {
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}

// Default returns the Z-Image profile.
func Default() Profile {
	return profiles[0]
}

// Lookup finds a profile by exact name. An empty name selects the default.
func Lookup(name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Default(), nil
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w %q (expected one of: %s)", ErrUnknownProfile, name, strings.Join(Names(), ", "))
}

// Blacklisted reports whether name contains any blacklist substring.
func (p Profile) Blacklisted(name string) bool {
	return containsAny(name, p.Blacklist)
}

// WantsFP8 reports whether name is routed to float8_e4m3fn.
func (p Profile) WantsFP8(name string) bool {
	return len(p.FP8) > 0 && containsAny(name, p.FP8)
}

// LayerName strips the profile prefix from key when present.
func (p Profile) LayerName(key string) string {
	if p.StripPrefix == "" {
		return key
	}
	if rest, ok := strings.CutPrefix(key, p.StripPrefix); ok {
		return rest
	}
	return key
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
