package tensor

import (
	"fmt"
	"math"
)

// SoftmaxRow normalizes row in place into a probability distribution.
//
// The row maximum is subtracted before exponentiating. A row whose entries are
// all -Inf (every position masked) or that is empty becomes all zeros and
// SoftmaxRow reports false; otherwise it reports true and the row sums to 1.
// A NaN anywhere in the row turns the whole row into NaN.
func SoftmaxRow(row []float32) bool {
	maxVal := float32(math.Inf(-1))
	for _, v := range row {
		if math.IsNaN(float64(v)) {
			nan := float32(math.NaN())
			for i := range row {
				row[i] = nan
			}
			return true
		}
		if v > maxVal {
			maxVal = v
		}
	}

	if math.IsInf(float64(maxVal), -1) {
		clear(row)
		return false
	}

	var expSum float64
	for i, v := range row {
		e := math.Exp(float64(v - maxVal))
		row[i] = float32(e)
		expSum += e
	}

	inv := float32(1 / expSum)
	for i := range row {
		row[i] *= inv
	}
	return true
}

// Softmax applies softmax along the specified dimension. Slices that are fully
// masked (all -Inf) come out as zeros, see SoftmaxRow.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("%w: invalid dimension %d for tensor with %d dimensions",
			ErrShapeMismatch, dim, len(t.Shape))
	}

	result := t.Clone()

	outer := numElements(t.Shape[:dim])
	n := t.Shape[dim]
	inner := numElements(t.Shape[dim+1:])

	// Last-axis slices are contiguous and normalized in place.
	if inner == 1 {
		for o := 0; o < outer; o++ {
			SoftmaxRow(result.Data[o*n : (o+1)*n])
		}
		return result, nil
	}

	row := make([]float32, n)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*n*inner + in
			for i := 0; i < n; i++ {
				row[i] = result.Data[base+i*inner]
			}
			SoftmaxRow(row)
			for i := 0; i < n; i++ {
				result.Data[base+i*inner] = row[i]
			}
		}
	}

	return result, nil
}
