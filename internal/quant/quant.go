// Package quant implements the numeric quantization routines used by the
// conversion engine: NVFP4 block quantization and per-tensor float8_e4m3fn.
package quant

import (
	"errors"

	"github.com/samcharles93/requant/internal/tensor"
)

// ErrUnavailable is returned by every routine of a backend that was not
// compiled into this build.
var ErrUnavailable = errors.New("quant: quantization backend not available")

type Backend interface {
	Name() string
	// Available reports why the backend cannot run, or nil.
	Available() error
	// QuantizeNVFP4 block-quantizes a 2-D tensor. Failures are reported in the
	// result rather than as an error so callers can fall back per tensor.
	QuantizeNVFP4(t tensor.Tensor) Result
	// QuantizeFP8 encodes t / scale as float8_e4m3fn, saturating at ±448.
	QuantizeFP8(t tensor.Tensor, scale float32) (tensor.Tensor, error)
}

// Output is one tensor produced by a quantization routine. The caller stores
// it under "<base>.weight" + Suffix.
type Output struct {
	Suffix string
	Tensor tensor.Tensor
}

// Result is either an ordered list of outputs or the reason quantization failed.
type Result struct {
	Outputs []Output
	Err     error
}

func Succeeded(outputs ...Output) Result {
	return Result{Outputs: outputs}
}

func Failed(err error) Result {
	if err == nil {
		err = errors.New("quant: unknown failure")
	}
	return Result{Err: err}
}

// OK reports whether the result carries a payload.
func (r Result) OK() bool {
	return r.Err == nil
}

// Unavailable is a Backend whose every call fails. A conversion driven by it
// writes an all-BF16 checkpoint.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Name() string { return "unavailable" }

func (u Unavailable) Available() error {
	if u.Reason == "" {
		return ErrUnavailable
	}
	return errors.Join(ErrUnavailable, errors.New(u.Reason))
}

func (u Unavailable) QuantizeNVFP4(tensor.Tensor) Result {
	return Failed(u.Available())
}

func (u Unavailable) QuantizeFP8(tensor.Tensor, float32) (tensor.Tensor, error) {
	return tensor.Tensor{}, u.Available()
}
