package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// GemmInto computes dst = alpha * a · b for row-major matrices, overwriting dst.
//
//   - a: (m, k)
//   - b: (k, n), or (n, k) when transB is set
//   - dst: (m, n)
//
// The slices may be windows into larger tensors; only the leading m*k, k*n and
// m*n elements are touched.
func GemmInto(dst, a, b []float32, m, k, n int, transB bool, alpha float32) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(dst[:m*n])
		return
	}

	tB := blas.NoTrans
	bm := blas32.General{Rows: k, Cols: n, Stride: n, Data: b[:k*n]}
	if transB {
		tB = blas.Trans
		bm = blas32.General{Rows: n, Cols: k, Stride: k, Data: b[:k*n]}
	}

	blas32.Gemm(blas.NoTrans, tB, alpha,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a[:m*k]},
		bm,
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: dst[:m*n]},
	)
}

// Matmul performs matrix multiplication on the last two dimensions.
// For tensors of shape (..., m, n) and (..., n, p), returns (..., m, p).
// Supports broadcasting: if one operand is 2D and the other is 3D, the 2D is broadcast.
func Matmul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("%w: matmul requires at least 2D tensors, got %dD and %dD",
			ErrShapeMismatch, len(a.Shape), len(b.Shape))
	}

	kA := a.Shape[len(a.Shape)-1]
	kB := b.Shape[len(b.Shape)-2]
	if kA != kB {
		return nil, fmt.Errorf("%w: incompatible shapes for matmul: %v and %v (inner dimensions %d and %d don't match)",
			ErrShapeMismatch, a.Shape, b.Shape, kA, kB)
	}

	if len(a.Shape) == 2 && len(b.Shape) == 3 {
		return matmul2D3D(a, b), nil
	}
	if len(a.Shape) == 3 && len(b.Shape) == 2 {
		return matmul3D2D(a, b), nil
	}

	return matmulBatched(a, b)
}

// matmul3D2D handles (batch, m, n) @ (n, p) -> (batch, m, p) as one GEMM over
// the flattened (batch*m, n) left operand.
func matmul3D2D(a, b *Tensor) *Tensor {
	batch, m, n := a.Shape[0], a.Shape[1], a.Shape[2]
	p := b.Shape[1]

	result := NewTensor([]int{batch, m, p})
	GemmInto(result.Data, a.Data, b.Data, batch*m, n, p, false, 1)
	return result
}

// matmul2D3D handles (m, n) @ (batch, n, p) -> (batch, m, p)
func matmul2D3D(a, b *Tensor) *Tensor {
	m, n := a.Shape[0], a.Shape[1]
	batch, p := b.Shape[0], b.Shape[2]

	result := NewTensor([]int{batch, m, p})
	for bi := 0; bi < batch; bi++ {
		GemmInto(result.Data[bi*m*p:], a.Data, b.Data[bi*n*p:], m, n, p, false, 1)
	}
	return result
}

// matmulBatched handles batched matrix multiplication with identical batch dimensions.
func matmulBatched(a, b *Tensor) (*Tensor, error) {
	m := a.Shape[len(a.Shape)-2]
	n := a.Shape[len(a.Shape)-1]
	p := b.Shape[len(b.Shape)-1]

	batchDims := a.Shape[:len(a.Shape)-2]
	if !shapeEqual(batchDims, b.Shape[:len(b.Shape)-2]) {
		return nil, fmt.Errorf("%w: incompatible batch dimensions for matmul: %v and %v",
			ErrShapeMismatch, a.Shape, b.Shape)
	}
	batchSize := numElements(batchDims)

	resultShape := append(copyShape(batchDims), m, p)
	result := NewTensor(resultShape)

	for batch := 0; batch < batchSize; batch++ {
		GemmInto(result.Data[batch*m*p:], a.Data[batch*m*n:], b.Data[batch*n*p:], m, n, p, false, 1)
	}

	return result, nil
}

// Linear applies y = x · Wᵗ + bias along the last axis of x, preserving every
// leading axis.
//
//   - x: (..., in)
//   - weight: (out, in)
//   - bias: (out,) or nil
//
// Returns a tensor of shape (..., out).
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("%w: weight must be 2D (out, in), got shape %v", ErrShapeMismatch, weight.Shape)
	}
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("%w: cannot project a scalar tensor", ErrShapeMismatch)
	}

	out, in := weight.Shape[0], weight.Shape[1]
	last := len(x.Shape) - 1
	if x.Shape[last] != in {
		return nil, fmt.Errorf("%w: input dimension %d doesn't match weight shape %v",
			ErrShapeMismatch, x.Shape[last], weight.Shape)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != out) {
		return nil, fmt.Errorf("%w: bias shape %v doesn't match output dimension %d",
			ErrShapeMismatch, bias.Shape, out)
	}

	resultShape := append(copyShape(x.Shape[:last]), out)
	result := NewTensor(resultShape)
	GemmInto(result.Data, x.Data, weight.Data, numElements(x.Shape[:last]), in, out, true, 1)

	if bias == nil {
		return result, nil
	}
	return Add(result, bias)
}

// Scale multiplies all elements by a scalar.
func Scale(t *Tensor, scalar float32) *Tensor {
	result := NewTensor(t.Shape)
	for i := range t.Data {
		result.Data[i] = t.Data[i] * scalar
	}
	return result
}

// Scale multiplies all elements by a scalar (tensor method version).
func (t *Tensor) Scale(s float32) *Tensor {
	return Scale(t, s)
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot broadcast shapes %v and %v: %v", ErrShapeMismatch, a.Shape, b.Shape, err)
	}

	result := NewTensor(outShape)
	aStrides := broadcastStrides(a.Shape, outShape)
	bStrides := broadcastStrides(b.Shape, outShape)

	idx := make([]int, len(outShape))
	for out := range result.Data {
		ai, bi := 0, 0
		for i, v := range idx {
			ai += v * aStrides[i]
			bi += v * bStrides[i]
		}
		result.Data[out] = a.Data[ai] + b.Data[bi]

		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outShape[i] {
				break
			}
			idx[i] = 0
		}
	}

	return result, nil
}

// broadcastShapes computes the broadcasted shape of two shapes
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := max(len(a), len(b))
	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA := 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		dimB := 1
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, fmt.Errorf("incompatible dimensions %d and %d", dimA, dimB)
		}

		if dimA == 1 {
			result[maxLen-1-i] = dimB
		} else {
			result[maxLen-1-i] = dimA
		}
	}

	return result, nil
}

// broadcastStrides returns strides for reading a tensor of shape in as if it
// had shape out; broadcast axes get stride zero.
func broadcastStrides(in, out []int) []int {
	strides := make([]int, len(out))
	inStrides := computeStrides(in)
	diff := len(out) - len(in)
	for i := range in {
		if in[i] != 1 {
			strides[i+diff] = inStrides[i]
		}
	}
	return strides
}
