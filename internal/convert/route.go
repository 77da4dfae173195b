// Package convert is the requantization policy engine. It decides per tensor
// whether a checkpoint entry is cast to bfloat16, block-quantized to NVFP4 or
// quantized per tensor to float8_e4m3fn, and assembles the output checkpoint
// and manifest.
package convert

import (
	"strings"

	"github.com/samcharles93/requant/internal/manifest"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/safetensors"
)

// weightMarker identifies linear weights; it is also the suffix stripped to
// form the output base key.
const weightMarker = ".weight"

// fp8ScaleSuffix follows the base key of an FP8 weight's scale tensor.
const fp8ScaleSuffix = ".weight_scale"

type Treatment int

const (
	// BF16 keeps the key and stores a bfloat16 cast.
	BF16 Treatment = iota
	NVFP4
	FP8
)

func (t Treatment) String() string {
	switch t {
	case NVFP4:
		return manifest.FormatNVFP4
	case FP8:
		return manifest.FormatFP8
	default:
		return "bf16"
	}
}

// Reasons a tensor is routed to BF16.
const (
	ReasonBlacklisted = "blacklisted"
	ReasonNotLinear   = "not a 2-D weight"
	ReasonFallback    = "quantization failed"
)

// Decision is the routing outcome for one tensor.
type Decision struct {
	Name      string
	Treatment Treatment
	// Reason is set for BF16 decisions.
	Reason string
	// Key is the name with the trailing ".weight" removed; quantized outputs
	// are stored under Key + ".weight" + suffix.
	Key string
	// Layer is the manifest entry name: Key without the profile prefix.
	Layer string
}

// Quantized reports whether the decision produces a manifest entry.
func (d Decision) Quantized() bool {
	return d.Treatment != BF16
}

// Route applies the profile policy to a tensor name and shape. Rules are
// checked in order: blacklist, linear-weight shape gate, FP8 table, NVFP4.
func Route(name string, shape []int, p profile.Profile) Decision {
	d := Decision{Name: name}
	if p.Blacklisted(name) {
		d.Reason = ReasonBlacklisted
		return d
	}
	if len(shape) != 2 || !strings.Contains(name, weightMarker) {
		d.Reason = ReasonNotLinear
		return d
	}
	d.Key = strings.TrimSuffix(name, weightMarker)
	d.Layer = p.LayerName(d.Key)
	if p.WantsFP8(name) {
		d.Treatment = FP8
	} else {
		d.Treatment = NVFP4
	}
	return d
}

// Plan routes every tensor of c in checkpoint order without quantizing.
func Plan(c *safetensors.Checkpoint, p profile.Profile) []Decision {
	names := c.Names()
	out := make([]Decision, 0, len(names))
	for _, name := range names {
		t, _ := c.Get(name)
		out = append(out, Route(name, t.Shape, p))
	}
	return out
}

// PlanFile routes every tensor described by an archive header, so a plan
// can be made without loading tensor data.
func PlanFile(f *safetensors.File, p profile.Profile) []Decision {
	names := f.Names()
	out := make([]Decision, 0, len(names))
	for _, name := range names {
		info, _ := f.Tensor(name)
		out = append(out, Route(name, info.Shape, p))
	}
	return out
}

// OutputKeys lists the keys a decision writes when quantization succeeds.
func (d Decision) OutputKeys(suffixes []string) []string {
	switch d.Treatment {
	case FP8:
		return []string{d.Name, d.Key + fp8ScaleSuffix}
	case NVFP4:
		keys := make([]string, len(suffixes))
		for i, s := range suffixes {
			keys[i] = d.Key + weightMarker + s
		}
		return keys
	default:
		return []string{d.Name}
	}
}
