package model

import (
	"fmt"
	"math"
	"math/rand"

	"mhattn/pkg/tensor"
)

// Linear is an affine projection y = x·Wᵗ + b applied along the last axis.
//
// Weight has shape (out, in) and Bias, when present, shape (out,). Both are
// read-only once the unit is built, so one Linear can serve concurrent calls.
type Linear struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// NewLinear creates a projection from in to out features with Xavier-uniform
// weights drawn from rng and a zero bias when useBias is set.
func NewLinear(in, out int, useBias bool, rng *rand.Rand) *Linear {
	weight := tensor.NewTensor([]int{out, in})
	limit := math.Sqrt(6.0 / float64(in+out))
	for i := range weight.Data {
		weight.Data[i] = float32((rng.Float64()*2 - 1) * limit)
	}

	l := &Linear{Weight: weight}
	if useBias {
		l.Bias = tensor.NewTensor([]int{out})
	}
	return l
}

// LinearFromTensors adopts externally supplied parameters. bias may be nil.
func LinearFromTensors(weight, bias *tensor.Tensor) (*Linear, error) {
	if weight == nil || len(weight.Shape) != 2 {
		var shape []int
		if weight != nil {
			shape = weight.Shape
		}
		return nil, fmt.Errorf("%w: weight must be 2D (out, in), got shape %v", tensor.ErrShapeMismatch, shape)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != weight.Shape[0]) {
		return nil, fmt.Errorf("%w: bias shape %v doesn't match weight shape %v",
			tensor.ErrShapeMismatch, bias.Shape, weight.Shape)
	}
	return &Linear{Weight: weight, Bias: bias}, nil
}

// LinearFromRaw decodes little-endian parameter buffers of the given dtype, as
// handed over by a parameter store, into a projection from in to out features.
// biasRaw may be nil.
func LinearFromRaw(dtype tensor.DType, weightRaw, biasRaw []byte, in, out int) (*Linear, error) {
	weight, err := tensor.Decode(dtype, weightRaw, []int{out, in})
	if err != nil {
		return nil, fmt.Errorf("failed to decode weight: %w", err)
	}

	var bias *tensor.Tensor
	if biasRaw != nil {
		if bias, err = tensor.Decode(dtype, biasRaw, []int{out}); err != nil {
			return nil, fmt.Errorf("failed to decode bias: %w", err)
		}
	}
	return LinearFromTensors(weight, bias)
}

// InDim returns the number of input features.
func (l *Linear) InDim() int { return l.Weight.Shape[1] }

// OutDim returns the number of output features.
func (l *Linear) OutDim() int { return l.Weight.Shape[0] }

// Forward projects x of shape (..., in) to (..., out).
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Linear(x, l.Weight, l.Bias)
}
