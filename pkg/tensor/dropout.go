package tensor

import (
	"fmt"
	"math/rand"
)

// Dropout randomly zeros out elements with probability p during training.
// Kept elements are scaled by 1/(1-p) (inverted dropout).
//
// Parameters:
//   - p: dropout probability in [0, 1)
//   - rng: random source; a nil rng or p == 0 means inference and returns a copy
//
// The receiver is never modified. The same rng state always yields the same mask.
func (t *Tensor) Dropout(p float32, rng *rand.Rand) (*Tensor, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	if rng == nil || p == 0 {
		return t.Clone(), nil
	}

	result := NewTensor(t.Shape)
	DropoutInPlace(result.Data, t.Data, p, rng)
	return result, nil
}

// DropoutInPlace writes the dropped-out src into dst, which may alias src.
// p must be in [0, 1) and rng non-nil.
func DropoutInPlace(dst, src []float32, p float32, rng *rand.Rand) {
	scale := 1 / (1 - p)
	for i, v := range src {
		if rng.Float32() >= p {
			dst[i] = v * scale
		} else {
			dst[i] = 0
		}
	}
}
