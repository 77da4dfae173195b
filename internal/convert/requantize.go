package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/requant/internal/device"
	"github.com/samcharles93/requant/internal/logger"
	"github.com/samcharles93/requant/internal/manifest"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/progress"
	"github.com/samcharles93/requant/internal/quant"
	"github.com/samcharles93/requant/internal/safetensors"
	"github.com/samcharles93/requant/internal/tensor"
)

var ErrKeyCollision = errors.New("output key collision")

type Options struct {
	Profile  profile.Profile
	Backend  quant.Backend
	Device   device.Device
	Progress progress.Reporter
	Logger   logger.Logger
}

// Stats counts the treatment each input tensor received.
type Stats struct {
	Tensors  int `json:"tensors"`
	BF16     int `json:"bf16"`
	NVFP4    int `json:"nvfp4"`
	FP8      int `json:"fp8"`
	Fallback int `json:"fallback"`
}

type Result struct {
	Checkpoint *safetensors.Checkpoint
	Manifest   *manifest.Manifest
	Stats      Stats
}

// Requantize runs one sequential pass over in, in checkpoint order. A failed
// quantization falls back to a BF16 cast of that tensor. The returned
// checkpoint carries the manifest as its only metadata.
func Requantize(ctx context.Context, in *safetensors.Checkpoint, opts Options) (res *Result, err error) {
	if opts.Backend == nil {
		opts.Backend = quant.Default()
	}
	if opts.Device == nil {
		opts.Device = device.NewCPU()
	}
	if opts.Progress == nil {
		opts.Progress = progress.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Profile.Name == "" {
		opts.Profile = profile.Default()
	}
	defer func() {
		if cerr := opts.Device.EmptyCache(); cerr != nil && err == nil {
			err = fmt.Errorf("release %s cache: %w", opts.Device.Name(), cerr)
			res = nil
		}
	}()

	p := &pass{
		opts: opts,
		log:  opts.Logger,
		out:  safetensors.NewCheckpoint(),
		man:  manifest.New(),
	}
	names := in.Names()
	total := len(names)
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("conversion interrupted at %s: %w", name, err)
		}
		t, _ := in.Get(name)
		if err := p.tensor(name, t); err != nil {
			return nil, err
		}
		opts.Progress.Update(i+1, total)
	}

	md, err := p.man.Metadata()
	if err != nil {
		return nil, err
	}
	p.out.Metadata = md
	p.stats.Tensors = total
	return &Result{Checkpoint: p.out, Manifest: p.man, Stats: p.stats}, nil
}

type pass struct {
	opts  Options
	log   logger.Logger
	out   *safetensors.Checkpoint
	man   *manifest.Manifest
	stats Stats
}

func (p *pass) set(key string, t tensor.Tensor) error {
	if _, exists := p.out.Get(key); exists {
		return fmt.Errorf("%w: %s", ErrKeyCollision, key)
	}
	p.out.Set(key, t)
	return nil
}

func (p *pass) tensor(name string, t tensor.Tensor) error {
	d := Route(name, t.Shape, p.opts.Profile)
	bf16, err := t.ToBF16()
	if err != nil {
		return fmt.Errorf("cast %s to bf16: %w", name, err)
	}
	if !d.Quantized() {
		p.log.Debug("keep", "tensor", name, "reason", d.Reason)
		p.stats.BF16++
		return p.set(name, bf16)
	}

	outs, qerr := p.quantize(d, bf16)
	if qerr != nil {
		p.log.Warn("quantization failed, falling back to bf16", "tensor", name, "format", d.Treatment.String(), "error", qerr)
		p.stats.Fallback++
		return p.set(name, bf16)
	}
	for _, o := range outs {
		if err := p.set(o.key, o.t); err != nil {
			return err
		}
	}
	p.man.Add(d.Layer, d.Treatment.String())
	switch d.Treatment {
	case FP8:
		p.stats.FP8++
	case NVFP4:
		p.stats.NVFP4++
	}
	p.log.Debug("quantized", "tensor", name, "layer", d.Layer, "format", d.Treatment.String())
	return nil
}

type keyed struct {
	key string
	t   tensor.Tensor
}

// quantize stages the bf16 cast on the device for the duration of one
// tensor's treatment.
func (p *pass) quantize(d Decision, bf16 tensor.Tensor) ([]keyed, error) {
	buf, err := p.opts.Device.Stage(len(bf16.Data))
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	staged := tensor.Tensor{DType: bf16.DType, Shape: bf16.Shape, Data: buf.Bytes()}
	copy(staged.Data, bf16.Data)

	if d.Treatment == FP8 {
		return p.quantizeFP8(d, staged)
	}
	r := p.opts.Backend.QuantizeNVFP4(staged)
	if !r.OK() {
		return nil, r.Err
	}
	outs := make([]keyed, len(r.Outputs))
	for i, o := range r.Outputs {
		outs[i] = keyed{key: d.Key + weightMarker + o.Suffix, t: o.Tensor}
	}
	return outs, nil
}

func (p *pass) quantizeFP8(d Decision, staged tensor.Tensor) ([]keyed, error) {
	vals, err := staged.Float32()
	if err != nil {
		return nil, err
	}
	// payload and stored scale use the same bf16 value
	scale := tensor.BF16Value(FP8Scale(vals))
	q, err := p.opts.Backend.QuantizeFP8(staged, scale)
	if err != nil {
		return nil, err
	}
	return []keyed{
		{key: d.Name, t: q},
		{key: d.Key + fp8ScaleSuffix, t: tensor.FromFloat32BF16([]int{}, []float32{scale})},
	}, nil
}

// FP8Scale returns max(max|x| / 448, 1e-12).
func FP8Scale(vals []float32) float32 {
	var amax float32
	for _, v := range vals {
		if v < 0 {
			v = -v
		}
		amax = max(amax, v)
	}
	return max(amax/quant.FP8Max, quant.MinScale)
}
