// Package attention implements multi-head scaled dot-product attention.
//
// A MultiHeadAttention projects queries, keys, and values into a shared hidden
// dimension, splits it into heads, attends per head, and projects the
// recombined heads back to the hidden dimension:
//
//	MHA(Q, K, V) = Concat(head_1, ..., head_h) · W_Oᵗ
//	head_i = softmax(Q_i · K_iᵗ / sqrt(head_dim) + mask) · V_i
//
// The engine holds only read-only weights, so Forward may be called from many
// goroutines at once.
package attention

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"mhattn/pkg/envconfig"
	"mhattn/pkg/model"
	"mhattn/pkg/tensor"
)

// MultiHeadAttention implements multi-head attention over query, key, and
// value sequences that may come from different sources (cross-attention).
//
// Architecture:
//   - WQuery, WKey, WValue project each input to (batch, seq, hidden_dim)
//   - hidden_dim is split into NumHeads() heads of HeadDim() features
//   - OutProj combines all heads
type MultiHeadAttention struct {
	WQuery  *model.Linear // (hidden_dim, query_dim)
	WKey    *model.Linear // (hidden_dim, key_dim)
	WValue  *model.Linear // (hidden_dim, value_dim)
	OutProj *model.Linear // (hidden_dim, hidden_dim)

	config model.AttentionConfig
}

// NewMultiHeadAttention creates a multi-head attention layer with freshly
// initialized weights drawn from config.Seed.
//
// It fails with tensor.ErrShapeMismatch when hidden_dim is not divisible by
// num_heads or any dimension is not positive.
func NewMultiHeadAttention(config model.AttentionConfig) (*MultiHeadAttention, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(config.Seed))
	return newMultiHeadAttention(config,
		model.NewLinear(config.QueryDim, config.HiddenDim, config.UseBias, rng),
		model.NewLinear(config.KeyDim, config.HiddenDim, config.UseBias, rng),
		model.NewLinear(config.ValueDim, config.HiddenDim, config.UseBias, rng),
		model.NewLinear(config.HiddenDim, config.HiddenDim, config.UseBias, rng),
	), nil
}

// NewMultiHeadAttentionWithWeights creates a layer over externally supplied
// projections, checking that each one matches config.
func NewMultiHeadAttentionWithWeights(config model.AttentionConfig, wQuery, wKey, wValue, outProj *model.Linear) (*MultiHeadAttention, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	for _, p := range []struct {
		name    string
		l       *model.Linear
		in, out int
	}{
		{"query", wQuery, config.QueryDim, config.HiddenDim},
		{"key", wKey, config.KeyDim, config.HiddenDim},
		{"value", wValue, config.ValueDim, config.HiddenDim},
		{"output", outProj, config.HiddenDim, config.HiddenDim},
	} {
		if p.l == nil {
			return nil, fmt.Errorf("%s projection is nil", p.name)
		}
		if p.l.InDim() != p.in || p.l.OutDim() != p.out {
			return nil, fmt.Errorf("%w: %s projection has shape %v, expected [%d %d]",
				tensor.ErrShapeMismatch, p.name, p.l.Weight.Shape, p.out, p.in)
		}
	}

	return newMultiHeadAttention(config, wQuery, wKey, wValue, outProj), nil
}

func newMultiHeadAttention(config model.AttentionConfig, wQuery, wKey, wValue, outProj *model.Linear) *MultiHeadAttention {
	if config.Parallelism == 0 {
		config.Parallelism = envconfig.NumThreads()
	}
	config.ValidateOutput = config.ValidateOutput || envconfig.ValidateOutput()

	slog.Debug("multi-head attention initialized",
		"query_dim", config.QueryDim, "key_dim", config.KeyDim, "value_dim", config.ValueDim,
		"hidden_dim", config.HiddenDim, "num_heads", config.NumHeads, "head_dim", config.HeadDimension(),
		"dropout", config.Dropout, "bias", config.UseBias, "causal", config.Causal,
		"parallelism", config.Parallelism)

	return &MultiHeadAttention{
		WQuery:  wQuery,
		WKey:    wKey,
		WValue:  wValue,
		OutProj: outProj,
		config:  config,
	}
}

// Config returns the effective configuration.
func (m *MultiHeadAttention) Config() model.AttentionConfig { return m.config }

// NumHeads returns the number of attention heads.
func (m *MultiHeadAttention) NumHeads() int { return m.config.NumHeads }

// HeadDim returns the dimension per head.
func (m *MultiHeadAttention) HeadDim() int { return m.config.HeadDimension() }

// Forward computes multi-head attention in inference mode (no dropout).
//
// Input shapes:
//   - query: (batch, q_len, query_dim)
//   - key: (batch, kv_len, key_dim)
//   - value: (batch, kv_len, value_dim)
//   - mask: optional (batch, kv_len), true excludes a key position for every query
//
// Output shapes:
//   - output: (batch, q_len, hidden_dim)
//   - weights: (batch, num_heads, q_len, kv_len)
//
// Every weight row sums to 1 unless all of its keys are masked, in which case
// the row is all zeros. Shape errors wrap tensor.ErrShapeMismatch and are
// reported before any computation.
func (m *MultiHeadAttention) Forward(query, key, value *tensor.Tensor, mask *tensor.Mask) (output, weights *tensor.Tensor, err error) {
	return m.forward(query, key, value, mask, nil)
}

// ForwardTrain is Forward in training mode: attention dropout is applied with
// randomness taken from rng. The same rng state yields the same result. The
// returned weights are the probabilities before dropout.
func (m *MultiHeadAttention) ForwardTrain(query, key, value *tensor.Tensor, mask *tensor.Mask, rng *rand.Rand) (output, weights *tensor.Tensor, err error) {
	if rng == nil {
		return nil, nil, errors.New("training forward requires a random source")
	}
	return m.forward(query, key, value, mask, rng)
}

func (m *MultiHeadAttention) forward(query, key, value *tensor.Tensor, mask *tensor.Mask, rng *rand.Rand) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := m.checkInputs(query, key, value, mask); err != nil {
		return nil, nil, err
	}

	// Step 1: Project to Q, K, V
	// Q: (batch, q_len, hidden), K, V: (batch, kv_len, hidden)
	Q, err := m.WQuery.Forward(query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute Q: %w", err)
	}

	K, err := m.WKey.Forward(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute K: %w", err)
	}

	V, err := m.WValue.Forward(value)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute V: %w", err)
	}

	// Step 2: Reshape to separate heads
	// (batch, seq, hidden) -> (batch, num_heads, seq, head_dim)
	if Q, err = splitHeads(Q, m.config.NumHeads); err != nil {
		return nil, nil, fmt.Errorf("failed to split Q into heads: %w", err)
	}
	if K, err = splitHeads(K, m.config.NumHeads); err != nil {
		return nil, nil, fmt.Errorf("failed to split K into heads: %w", err)
	}
	if V, err = splitHeads(V, m.config.NumHeads); err != nil {
		return nil, nil, fmt.Errorf("failed to split V into heads: %w", err)
	}

	// Steps 3-7: scores, mask, softmax, dropout, weighted sum
	context, weights, fullyMasked, err := scaledDotProduct(Q, K, V, kernelParams{
		mask:        mask,
		causal:      m.config.Causal,
		dropout:     m.config.Dropout,
		rng:         rng,
		parallelism: m.config.Parallelism,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute attention: %w", err)
	}
	if fullyMasked > 0 {
		slog.Debug("attention rows with every key masked", "rows", fullyMasked)
	}

	// Step 8: Recombine heads
	// (batch, num_heads, q_len, head_dim) -> (batch, q_len, hidden)
	merged, err := mergeHeads(context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge heads: %w", err)
	}

	// Step 9: Output projection
	output, err := m.OutProj.Forward(merged)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply output projection: %w", err)
	}

	if m.config.ValidateOutput {
		if err := tensor.CheckFinite("attention output", output); err != nil {
			return nil, nil, err
		}
		if err := tensor.CheckFinite("attention weights", weights); err != nil {
			return nil, nil, err
		}
	}

	return output, weights, nil
}

// checkInputs validates every shape contract up front.
func (m *MultiHeadAttention) checkInputs(query, key, value *tensor.Tensor, mask *tensor.Mask) error {
	for _, in := range []struct {
		name string
		t    *tensor.Tensor
		dim  int
	}{
		{"query", query, m.config.QueryDim},
		{"key", key, m.config.KeyDim},
		{"value", value, m.config.ValueDim},
	} {
		if in.t == nil {
			return fmt.Errorf("%s is nil", in.name)
		}
		if in.t.NumDims() != 3 {
			return fmt.Errorf("%w: expected 3D %s (batch, seq, features), got %dD with shape %v",
				tensor.ErrShapeMismatch, in.name, in.t.NumDims(), in.t.Shape)
		}
		if err := in.t.CheckData(); err != nil {
			return fmt.Errorf("invalid %s: %w", in.name, err)
		}
		if in.t.Shape[2] != in.dim {
			return fmt.Errorf("%w: %s feature dimension %d doesn't match expected %d",
				tensor.ErrShapeMismatch, in.name, in.t.Shape[2], in.dim)
		}
	}

	batchSize := query.Shape[0]
	if key.Shape[0] != batchSize || value.Shape[0] != batchSize {
		return fmt.Errorf("%w: batch sizes differ: query %d, key %d, value %d",
			tensor.ErrShapeMismatch, batchSize, key.Shape[0], value.Shape[0])
	}

	kvLen := key.Shape[1]
	if value.Shape[1] != kvLen {
		return fmt.Errorf("%w: key sequence length %d doesn't match value sequence length %d",
			tensor.ErrShapeMismatch, kvLen, value.Shape[1])
	}

	if mask != nil {
		if err := mask.CheckData(); err != nil {
			return fmt.Errorf("invalid mask: %w", err)
		}
		if mask.Shape[0] != batchSize || mask.Shape[1] != kvLen {
			return fmt.Errorf("%w: mask shape %v, expected [%d %d]", tensor.ErrShapeMismatch, mask.Shape, batchSize, kvLen)
		}
	}

	if m.config.Causal && query.Shape[1] != kvLen {
		return fmt.Errorf("%w: causal attention needs equal query and key lengths, got %d and %d",
			tensor.ErrShapeMismatch, query.Shape[1], kvLen)
	}

	return nil
}
