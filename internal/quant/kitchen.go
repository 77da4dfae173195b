package quant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/requant/internal/tensor"
)

const (
	// BlockSize is the number of consecutive inner-dimension values sharing one scale.
	BlockSize = 16
	// FP4Max is the largest E2M1 magnitude.
	FP4Max = 6.0
	// FP8Max is the largest finite float8_e4m3fn magnitude.
	FP8Max = tensor.E4M3Max
	// MinScale floors every computed scale.
	MinScale = 1e-12

	SuffixData        = ""
	SuffixBlockScale  = "_scale"
	SuffixTensorScale = "_scale_2"

	// scale tile geometry of the tensor-core block-scale layout
	tileRows = 128
	tileCols = 4
)

// NVFP4Suffixes returns the key suffixes of a successful NVFP4 result in
// output order.
func NVFP4Suffixes() []string {
	return []string{SuffixData, SuffixBlockScale, SuffixTensorScale}
}

var e2m1Values = []float32{0, 0.5, 1, 1.5, 2, 3, 4, 6}

var (
	errShape     = errors.New("quant: nvfp4 expects a non-empty 2-D tensor")
	errBlockSize = errors.New("quant: inner dimension not divisible by block size")
	errNonFinite = errors.New("quant: tensor contains non-finite values")
)

// Kitchen is the built-in NVFP4/FP8 backend. It runs on the host and emits
// the layout the fused NVFP4 GEMM kernels consume.
type Kitchen struct{}

func (Kitchen) Name() string { return "kitchen" }

func (Kitchen) Available() error { return nil }

func (Kitchen) QuantizeNVFP4(t tensor.Tensor) Result {
	outs, err := quantizeNVFP4(t)
	if err != nil {
		return Failed(err)
	}
	return Succeeded(outs...)
}

func (Kitchen) QuantizeFP8(t tensor.Tensor, scale float32) (tensor.Tensor, error) {
	if !(scale > 0) || math.IsInf(float64(scale), 0) {
		return tensor.Tensor{}, fmt.Errorf("quant: invalid fp8 scale %v", scale)
	}
	vals, err := t.Float32()
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("quant: fp8 input: %w", err)
	}
	out := make([]byte, len(vals))
	for i, v := range vals {
		q := v / scale
		if q > FP8Max {
			q = FP8Max
		} else if q < -FP8Max {
			q = -FP8Max
		}
		out[i] = tensor.EncodeE4M3(q)
	}
	return tensor.Tensor{DType: tensor.F8E4M3, Shape: append([]int(nil), t.Shape...), Data: out}, nil
}

// ScaleShape returns the padded shape of the block-scale tensor for a
// rows x cols weight.
func ScaleShape(rows, cols int) (int, int) {
	blocks := cols / BlockSize
	return ceilDiv(rows, tileRows) * tileRows, ceilDiv(blocks, tileCols) * tileCols
}

// swizzleIndex maps a (row, block column) scale coordinate into the tiled
// layout: 128x4 tiles, each stored as 32 groups of 4 rows x 4 columns.
func swizzleIndex(row, col, colTiles int) int {
	rb, rIn := row/tileRows, row%tileRows
	cb, c := col/tileCols, col%tileCols
	i, j := rIn/32, rIn%32
	return (rb*colTiles+cb)*tileRows*tileCols + j*16 + i*4 + c
}

func quantizeNVFP4(t tensor.Tensor) ([]Output, error) {
	if t.Rank() != 2 || t.Shape[0] <= 0 || t.Shape[1] <= 0 {
		return nil, fmt.Errorf("%w, got shape %v", errShape, t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	if cols%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d %% %d", errBlockSize, cols, BlockSize)
	}
	vals, err := t.Float32()
	if err != nil {
		return nil, fmt.Errorf("quant: nvfp4 input: %w", err)
	}

	var amax float32
	for _, v := range vals {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, errNonFinite
		}
		amax = max(amax, abs32(v))
	}
	tensorScale := max(amax/(FP4Max*FP8Max), MinScale)

	blocks := cols / BlockSize
	scaleRows, scaleCols := ScaleShape(rows, cols)
	colTiles := scaleCols / tileCols
	scales := make([]byte, scaleRows*scaleCols)
	packed := make([]byte, rows*cols/2)

	for r := range rows {
		row := vals[r*cols : (r+1)*cols]
		for b := range blocks {
			block := row[b*BlockSize : (b+1)*BlockSize]
			var bmax float32
			for _, v := range block {
				bmax = max(bmax, abs32(v))
			}
			code := tensor.EncodeE4M3(bmax / FP4Max / tensorScale)
			scales[swizzleIndex(r, b, colTiles)] = code

			denom := tensor.DecodeE4M3(code) * tensorScale
			base := (r*cols + b*BlockSize) / 2
			for k := 0; k < BlockSize; k += 2 {
				lo := encodeE2M1(block[k], denom)
				hi := encodeE2M1(block[k+1], denom)
				packed[base+k/2] = lo | hi<<4
			}
		}
	}

	scale2 := make([]byte, 4)
	binary.LittleEndian.PutUint32(scale2, math.Float32bits(tensorScale))

	return []Output{
		{Suffix: SuffixData, Tensor: tensor.Tensor{DType: tensor.U8, Shape: []int{rows, cols / 2}, Data: packed}},
		{Suffix: SuffixBlockScale, Tensor: tensor.Tensor{DType: tensor.F8E4M3, Shape: []int{scaleRows, scaleCols}, Data: scales}},
		{Suffix: SuffixTensorScale, Tensor: tensor.Tensor{DType: tensor.F32, Shape: []int{}, Data: scale2}},
	}, nil
}

// encodeE2M1 returns the 4-bit code of v/denom; bit 3 is the sign.
func encodeE2M1(v, denom float32) byte {
	if denom == 0 {
		return 0
	}
	q := v / denom
	var sign byte
	if q < 0 {
		sign = 0x8
		q = -q
	}
	code := byte(tensor.NearestCode(e2m1Values, q))
	if code == 0 {
		return 0
	}
	return sign | code
}

// DequantizeNVFP4 reconstructs float32 values from the three NVFP4 outputs of
// a rows x cols weight.
func DequantizeNVFP4(rows, cols int, data, blockScale, tensorScale tensor.Tensor) ([]float32, error) {
	if cols%BlockSize != 0 || rows <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", errBlockSize, rows, cols)
	}
	if len(data.Data) != rows*cols/2 {
		return nil, fmt.Errorf("quant: packed data has %d bytes, want %d", len(data.Data), rows*cols/2)
	}
	scaleRows, scaleCols := ScaleShape(rows, cols)
	if len(blockScale.Data) != scaleRows*scaleCols {
		return nil, fmt.Errorf("quant: block scale has %d bytes, want %d", len(blockScale.Data), scaleRows*scaleCols)
	}
	ts, err := tensorScale.Float32()
	if err != nil || len(ts) != 1 {
		return nil, fmt.Errorf("quant: tensor scale must be a scalar")
	}

	colTiles := scaleCols / tileCols
	out := make([]float32, rows*cols)
	for r := range rows {
		for c := range cols {
			s := tensor.DecodeE4M3(blockScale.Data[swizzleIndex(r, c/BlockSize, colTiles)]) * ts[0]
			idx := r*cols + c
			nib := data.Data[idx/2]
			if idx%2 == 1 {
				nib >>= 4
			}
			v := e2m1Values[nib&0x7]
			if nib&0x8 != 0 {
				v = -v
			}
			out[idx] = v * s
		}
	}
	return out, nil
}

func abs32(v float32) float32 {
	return math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
