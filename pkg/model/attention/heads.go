package attention

import (
	"fmt"

	"mhattn/pkg/tensor"
)

// splitHeads turns (batch, seq, hidden) into (batch, num_heads, seq, head_dim).
func splitHeads(x *tensor.Tensor, numHeads int) (*tensor.Tensor, error) {
	if x.NumDims() != 3 || x.Shape[2]%numHeads != 0 {
		return nil, fmt.Errorf("%w: cannot split shape %v into %d heads", tensor.ErrShapeMismatch, x.Shape, numHeads)
	}

	batchSize, seqLen, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	return x.Reshape([]int{batchSize, seqLen, numHeads, hidden / numHeads}).Transpose(1, 2)
}

// mergeHeads is the inverse of splitHeads:
// (batch, num_heads, seq, head_dim) -> (batch, seq, num_heads*head_dim).
func mergeHeads(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.NumDims() != 4 {
		return nil, fmt.Errorf("%w: expected 4D heads tensor, got shape %v", tensor.ErrShapeMismatch, x.Shape)
	}

	batchSize, numHeads, seqLen, headDim := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	t, err := x.Transpose(1, 2) // (batch, seq, num_heads, head_dim)
	if err != nil {
		return nil, err
	}
	return t.Reshape([]int{batchSize, seqLen, numHeads * headDim}), nil
}
