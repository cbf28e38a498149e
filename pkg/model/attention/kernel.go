package attention

import (
	"math"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"mhattn/pkg/tensor"
)

// kernelParams carries the per-call settings of scaledDotProduct.
type kernelParams struct {
	mask        *tensor.Mask // (batch, kv_len) or nil
	causal      bool
	dropout     float32
	rng         *rand.Rand // nil disables dropout
	parallelism int
}

// scaledDotProduct computes softmax(Q·Kᵗ/sqrt(head_dim))·V independently for
// every (batch, head) pair.
//
// Input shapes:
//   - q: (batch, num_heads, q_len, head_dim)
//   - k, v: (batch, num_heads, kv_len, head_dim)
//
// It returns the context (batch, num_heads, q_len, head_dim), the attention
// weights (batch, num_heads, q_len, kv_len) before dropout, and the number of
// rows whose keys were all masked. Those rows get zero weights everywhere.
//
// Work is fanned out over (batch, head) units; each unit writes only its own
// slice of the outputs. Dropout seeds are drawn from p.rng up front, one per
// unit, so the result does not depend on scheduling.
func scaledDotProduct(q, k, v *tensor.Tensor, p kernelParams) (context, weights *tensor.Tensor, fullyMasked int, err error) {
	batchSize, numHeads, qLen, headDim := q.Shape[0], q.Shape[1], q.Shape[2], q.Shape[3]
	kvLen := k.Shape[2]

	weights = tensor.NewTensor([]int{batchSize, numHeads, qLen, kvLen})
	context = tensor.NewTensor([]int{batchSize, numHeads, qLen, headDim})
	scale := float32(1.0 / math.Sqrt(float64(headDim)))
	negInf := float32(math.Inf(-1))

	units := batchSize * numHeads
	var seeds []int64
	if p.rng != nil && p.dropout > 0 {
		seeds = make([]int64, units)
		for i := range seeds {
			seeds[i] = p.rng.Int63()
		}
	}

	var masked atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(p.parallelism, 1))
	for u := range units {
		g.Go(func() error {
			qOff := u * qLen * headDim
			kvOff := u * kvLen * headDim
			w := weights.Data[u*qLen*kvLen : (u+1)*qLen*kvLen]

			// scores = Q·Kᵗ scaled
			tensor.GemmInto(w, q.Data[qOff:], k.Data[kvOff:], qLen, headDim, kvLen, true, scale)

			var maskRow []bool
			if p.mask != nil {
				maskRow = p.mask.Row(u / numHeads)
			}
			for i := 0; i < qLen; i++ {
				row := w[i*kvLen : (i+1)*kvLen]
				for j := range row {
					if (maskRow != nil && maskRow[j]) || (p.causal && j > i) {
						row[j] = negInf
					}
				}
				if !tensor.SoftmaxRow(row) {
					masked.Add(1)
				}
			}

			probs := w
			if seeds != nil {
				probs = make([]float32, len(w))
				tensor.DropoutInPlace(probs, w, p.dropout, rand.New(rand.NewSource(seeds[u])))
			}

			// context = weights·V
			tensor.GemmInto(context.Data[qOff:], probs, v.Data[kvOff:], qLen, kvLen, headDim, false, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}

	return context, weights, int(masked.Load()), nil
}
