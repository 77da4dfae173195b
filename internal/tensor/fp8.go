package tensor

import (
	"math"
	"sort"
)

// E4M3Max is the largest finite float8_e4m3fn value.
const E4M3Max = 448.0

const e4m3NaN = 0x7f

// e4m3Values holds the magnitude of every non-NaN positive code, indexed by code.
var e4m3Values = func() [127]float32 {
	var vals [127]float32
	for c := range vals {
		exp := c >> 3
		man := float64(c & 7)
		if exp == 0 {
			vals[c] = float32(man / 8 * math.Exp2(-6))
		} else {
			vals[c] = float32((1 + man/8) * math.Exp2(float64(exp-7)))
		}
	}
	return vals
}()

// DecodeE4M3 converts a float8_e4m3fn byte to float32.
func DecodeE4M3(b byte) float32 {
	mag := b & 0x7f
	if mag == e4m3NaN {
		return float32(math.NaN())
	}
	v := e4m3Values[mag]
	if b&0x80 != 0 {
		return -v
	}
	return v
}

// EncodeE4M3 converts f to float8_e4m3fn with round-to-nearest-even.
// Magnitudes beyond E4M3Max saturate to E4M3Max.
func EncodeE4M3(f float32) byte {
	if math.IsNaN(float64(f)) {
		return e4m3NaN
	}
	var sign byte
	if math.Signbit(float64(f)) {
		sign = 0x80
		f = -f
	}
	return sign | byte(nearestCode(e4m3Values[:], f))
}

// nearestCode returns the index of the value in vals closest to a, breaking
// ties toward the even index. vals must be ascending and start at zero.
func nearestCode(vals []float32, a float32) int {
	last := len(vals) - 1
	if a >= vals[last] {
		return last
	}
	i := sort.Search(len(vals), func(i int) bool { return vals[i] >= a })
	if i == 0 {
		return 0
	}
	lo, hi := vals[i-1], vals[i]
	switch dl, dh := a-lo, hi-a; {
	case dl < dh:
		return i - 1
	case dh < dl:
		return i
	case (i-1)%2 == 0:
		return i - 1
	default:
		return i
	}
}

// NearestCode exposes the table lookup for other minifloat encoders.
func NearestCode(vals []float32, a float32) int {
	return nearestCode(vals, a)
}
