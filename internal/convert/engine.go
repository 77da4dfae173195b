package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samcharles93/requant/internal/device"
	"github.com/samcharles93/requant/internal/logger"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/progress"
	"github.com/samcharles93/requant/internal/quant"
	"github.com/samcharles93/requant/internal/registry"
	"github.com/samcharles93/requant/internal/safetensors"
)

const archiveExt = ".safetensors"

var ErrInvalidName = errors.New("invalid output name")

// Resolver maps a user-facing model name in folder to a file path.
type Resolver interface {
	Resolve(folder, name string) (string, error)
}

type Engine struct {
	Models  Resolver
	Backend quant.Backend
	// OpenDevice defaults to device.Open.
	OpenDevice func(name string) (device.Device, error)
	Logger     logger.Logger
}

type Request struct {
	// ModelName is resolved in the diffusion_models folder.
	ModelName string
	// OutputName is the base name of the output archive, written next to the input.
	OutputName string
	Profile    string
	Device     string
	Progress   progress.Reporter
}

// Report describes a completed conversion.
type Report struct {
	Status     string        `json:"status"`
	Profile    string        `json:"profile"`
	Device     string        `json:"device"`
	InputPath  string        `json:"input_path"`
	OutputPath string        `json:"output_path"`
	Layers     int           `json:"layers"`
	Stats      Stats         `json:"stats"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Convert resolves, converts and saves the requested model, returning the
// status line shown to users.
func (e *Engine) Convert(ctx context.Context, req Request) (string, error) {
	rep, err := e.Run(ctx, req)
	if err != nil {
		return "", err
	}
	return rep.Status, nil
}

// Run resolves the request's model through the registry and converts it.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	if e.Models == nil {
		return nil, errors.New("convert: no model registry configured")
	}
	input, err := e.Models.Resolve(registry.DiffusionModels, req.ModelName)
	if err != nil {
		return nil, err
	}
	return e.RunPath(ctx, input, req)
}

// RunPath converts the archive at input. req.ModelName is ignored.
func (e *Engine) RunPath(ctx context.Context, input string, req Request) (*Report, error) {
	start := time.Now()
	log := e.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}

	base, err := ValidateOutputName(req.OutputName)
	if err != nil {
		return nil, err
	}
	prof, err := profile.Lookup(req.Profile)
	if err != nil {
		return nil, err
	}
	openDevice := e.OpenDevice
	if openDevice == nil {
		openDevice = device.Open
	}
	dev, err := openDevice(req.Device)
	if err != nil {
		return nil, err
	}
	// Requantize clears the cache itself once it runs.
	handedOff := false
	defer func() {
		if !handedOff {
			_ = dev.EmptyCache()
		}
	}()
	backend := e.Backend
	if backend == nil {
		backend = quant.Default()
	}

	output := OutputPath(input, base)
	if same, err := samePath(input, output); err != nil {
		return nil, err
	} else if same {
		return nil, fmt.Errorf("%w: %q would overwrite the input archive", ErrInvalidName, base)
	}

	log = log.With("profile", prof.Name, "device", dev.Name())
	log.Info("loading checkpoint", "path", input)
	in, err := safetensors.Load(input)
	if err != nil {
		return nil, err
	}
	defer func() { _ = in.Close() }()

	log.Info("requantizing", "tensors", in.Len(), "backend", backend.Name())
	handedOff = true
	res, err := Requantize(ctx, in, Options{
		Profile:  prof,
		Backend:  backend,
		Device:   dev,
		Progress: req.Progress,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	log.Info("saving checkpoint", "path", output)
	if err := safetensors.Save(output, res.Checkpoint); err != nil {
		return nil, err
	}

	rep := &Report{
		Status:     Status(prof.Name, base),
		Profile:    prof.Name,
		Device:     dev.Name(),
		InputPath:  input,
		OutputPath: output,
		Layers:     res.Manifest.Len(),
		Stats:      res.Stats,
		Elapsed:    time.Since(start),
	}
	log.Info("conversion complete",
		"output", output,
		"nvfp4", res.Stats.NVFP4,
		"fp8", res.Stats.FP8,
		"bf16", res.Stats.BF16,
		"fallback", res.Stats.Fallback,
		"elapsed", rep.Elapsed.Round(time.Millisecond),
	)
	return rep, nil
}

// Status formats the user-facing success line.
func Status(profileName, base string) string {
	return fmt.Sprintf("Success (%s): %s%s", profileName, base, archiveExt)
}

// OutputPath places <base>.safetensors next to input.
func OutputPath(input, base string) string {
	return filepath.Join(filepath.Dir(input), base+archiveExt)
}

// ValidateOutputName trims a trailing ".safetensors" and rejects names that
// are empty or would leave the input's directory.
func ValidateOutputName(name string) (string, error) {
	base := strings.TrimSpace(name)
	base = strings.TrimSuffix(base, archiveExt)
	switch {
	case base == "", base == ".", base == "..":
		return "", fmt.Errorf("%w %q", ErrInvalidName, name)
	case strings.ContainsAny(base, `/\`):
		return "", fmt.Errorf("%w %q: must not contain path separators", ErrInvalidName, name)
	}
	return base, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
