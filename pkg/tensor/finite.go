package tensor

import (
	"fmt"
	"math"
)

// CheckFinite returns an error wrapping ErrNumericInstability at the first NaN
// or Inf element of t, naming the tensor for diagnostics.
func CheckFinite(name string, t *Tensor) error {
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s has non-finite value %v at flat index %d (shape %v)",
				ErrNumericInstability, name, v, i, t.Shape)
		}
	}
	return nil
}
