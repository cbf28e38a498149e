package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType identifies the element encoding of a raw little-endian weight buffer.
type DType int

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Size returns the number of bytes per element.
func (d DType) Size() int {
	switch d {
	case F32:
		return 4
	case F16, BF16:
		return 2
	default:
		return 0
	}
}

// ParseDType parses a safetensors-style dtype name such as "F16" or "bf16".
func ParseDType(s string) (DType, error) {
	switch strings.ToUpper(s) {
	case "F32", "FLOAT32":
		return F32, nil
	case "F16", "FLOAT16":
		return F16, nil
	case "BF16", "BFLOAT16":
		return BF16, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", s)
	}
}

// Decode builds a float32 tensor of the given shape from a raw little-endian
// buffer encoded as dtype. Half-precision values are widened exactly.
func Decode(dtype DType, raw []byte, shape []int) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("unsupported dtype %v", dtype)
	}

	n := numElements(shape)
	if len(raw) != n*dtype.Size() {
		return nil, fmt.Errorf("%w: %v buffer of %d bytes does not hold shape %v (%d elements)",
			ErrShapeMismatch, dtype, len(raw), shape, n)
	}

	t := NewTensor(shape)
	switch dtype {
	case F32:
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case F16:
		for i := range t.Data {
			t.Data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case BF16:
		copy(t.Data, bfloat16.DecodeFloat32(raw))
	}
	return t, nil
}

// Encode is the inverse of Decode. F16 rounds to the nearest representable
// value; BF16 keeps the upper 16 bits of each float32, truncating toward zero.
func Encode(dtype DType, t *Tensor) ([]byte, error) {
	switch dtype {
	case F32:
		raw := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
		}
		return raw, nil
	case F16:
		raw := make([]byte, 2*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint16(raw[i*2:], float16.Fromfloat32(v).Bits())
		}
		return raw, nil
	case BF16:
		return bfloat16.EncodeFloat32(t.Data), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %v", dtype)
	}
}
