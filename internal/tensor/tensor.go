package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is the safetensors dtype string.
type DType string

const (
	F32     DType = "F32"
	F16     DType = "F16"
	BF16    DType = "BF16"
	F8E4M3  DType = "F8_E4M3"
	U8      DType = "U8"
	I8      DType = "I8"
	I32     DType = "I32"
	I64     DType = "I64"
	Bool    DType = "BOOL"
	Invalid DType = ""
)

var ErrUnsupportedDType = errors.New("tensor: unsupported dtype")

// Size returns the element size in bytes, or 0 for unknown dtypes.
func (d DType) Size() int {
	switch d {
	case F32, I32:
		return 4
	case F16, BF16:
		return 2
	case F8E4M3, U8, I8, Bool:
		return 1
	case I64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether values of d can be decoded to float32.
func (d DType) IsFloat() bool {
	switch d {
	case F32, F16, BF16, F8E4M3:
		return true
	default:
		return false
	}
}

// Tensor is a dense little-endian tensor as stored in a safetensors archive.
// Data may alias read-only memory (an mmap'd archive); never write through it.
type Tensor struct {
	DType DType
	Shape []int
	Data  []byte
}

// New validates that data matches dtype and shape.
func New(dt DType, shape []int, data []byte) (Tensor, error) {
	t := Tensor{DType: dt, Shape: shape, Data: data}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// Rank returns the number of dimensions. Scalars have rank 0.
func (t Tensor) Rank() int {
	return len(t.Shape)
}

// NumElements returns the element count. A 0-dim tensor holds one element.
func (t Tensor) NumElements() int {
	n, _ := numElements(t.Shape)
	return n
}

func (t Tensor) Validate() error {
	size := t.DType.Size()
	if size == 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, t.DType)
	}
	n, err := numElements(t.Shape)
	if err != nil {
		return err
	}
	if len(t.Data) != n*size {
		return fmt.Errorf("tensor: %s%v wants %d bytes, have %d", t.DType, t.Shape, n*size, len(t.Data))
	}
	return nil
}

// Float32 decodes the tensor values.
func (t Tensor) Float32() ([]float32, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	n := t.NumElements()
	switch t.DType {
	case F32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
		return out, nil
	case F16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[i*2:])).Float32()
		}
		return out, nil
	case BF16:
		return bfloat16.DecodeFloat32(t.Data), nil
	case F8E4M3:
		out := make([]float32, n)
		for i, b := range t.Data {
			out[i] = DecodeE4M3(b)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot decode %s", ErrUnsupportedDType, t.DType)
	}
}

// ToBF16 casts a float tensor to bfloat16. A BF16 input is copied bit for bit.
func (t Tensor) ToBF16() (Tensor, error) {
	if t.DType == BF16 {
		if err := t.Validate(); err != nil {
			return Tensor{}, err
		}
		return t.Clone(), nil
	}
	vals, err := t.Float32()
	if err != nil {
		return Tensor{}, err
	}
	return FromFloat32BF16(t.Shape, vals), nil
}

// Clone returns a copy that owns its data and shape.
func (t Tensor) Clone() Tensor {
	return Tensor{
		DType: t.DType,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]byte(nil), t.Data...),
	}
}

// FromFloat32 builds an F32 tensor.
func FromFloat32(shape []int, vals []float32) Tensor {
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return Tensor{DType: F32, Shape: append([]int(nil), shape...), Data: data}
}

// FromFloat32F16 builds an F16 tensor.
func FromFloat32F16(shape []int, vals []float32) Tensor {
	data := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}
	return Tensor{DType: F16, Shape: append([]int(nil), shape...), Data: data}
}

// FromFloat32BF16 builds a BF16 tensor, rounding to nearest even.
func FromFloat32BF16(shape []int, vals []float32) Tensor {
	data := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[i*2:], RoundBF16(v))
	}
	return Tensor{DType: BF16, Shape: append([]int(nil), shape...), Data: data}
}

// RoundBF16 converts f to bfloat16 bits with round-to-nearest-even.
// NaN stays a quiet NaN.
func RoundBF16(f float32) uint16 {
	u := math.Float32bits(f)
	if u&0x7fffffff > 0x7f800000 {
		return uint16(u>>16) | 0x0040
	}
	u += 0x7fff + ((u >> 16) & 1)
	return uint16(u >> 16)
}

// BF16Value returns the float32 that f rounds to in bfloat16.
func BF16Value(f float32) float32 {
	return bfloat16.ToFloat32(bfloat16.BF16(RoundBF16(f)))
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("tensor: invalid dim %d", d)
		}
		if d != 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor: too large")
		}
		n *= d
	}
	return n, nil
}
