// Package model provides the building blocks of the attention engine: the head
// configuration and the Linear projection unit that maps query, key, and value
// features into the shared hidden dimension.
package model

import (
	"fmt"

	"mhattn/pkg/tensor"
)

// AttentionConfig holds the hyperparameters of a multi-head attention layer.
// It is fixed at construction time.
type AttentionConfig struct {
	// QueryDim, KeyDim and ValueDim are the input feature sizes of the three
	// projections. They may differ (cross-attention over heterogeneous inputs).
	QueryDim int
	KeyDim   int
	ValueDim int

	// HiddenDim is the shared output size of the Q/K/V projections and of the
	// output projection. It must be divisible by NumHeads.
	HiddenDim int

	// NumHeads is the number of attention heads.
	NumHeads int

	// Dropout is the attention-weight dropout rate, active only in training calls.
	Dropout float32

	// UseBias adds a learned bias to all four projections.
	UseBias bool

	// Causal additionally masks key positions after the query position.
	// Requires query and key/value sequences of equal length.
	Causal bool

	// Parallelism caps the goroutines used per forward pass. Zero means
	// envconfig.NumThreads().
	Parallelism int

	// ValidateOutput makes every forward pass fail with ErrNumericInstability
	// when the output or weights contain NaN or Inf.
	ValidateOutput bool

	// Seed drives weight initialization.
	Seed int64
}

// DefaultAttentionConfig returns a cross-attention configuration with
// heterogeneous input sizes: 64/128/256 features into 4 heads of 64.
func DefaultAttentionConfig() AttentionConfig {
	return AttentionConfig{
		QueryDim:  64,
		KeyDim:    128,
		ValueDim:  256,
		HiddenDim: 256,
		NumHeads:  4,
		Dropout:   0.1,
		UseBias:   true,
	}
}

// Validate checks if the configuration is valid and consistent.
// Dimension errors wrap tensor.ErrShapeMismatch.
func (c AttentionConfig) Validate() error {
	if c.QueryDim <= 0 || c.KeyDim <= 0 || c.ValueDim <= 0 {
		return fmt.Errorf("%w: feature dimensions must be positive, got query=%d key=%d value=%d",
			tensor.ErrShapeMismatch, c.QueryDim, c.KeyDim, c.ValueDim)
	}
	if c.NumHeads <= 0 {
		return fmt.Errorf("%w: num_heads must be positive, got %d", tensor.ErrShapeMismatch, c.NumHeads)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("%w: hidden_dim must be positive, got %d", tensor.ErrShapeMismatch, c.HiddenDim)
	}
	if c.HiddenDim%c.NumHeads != 0 {
		return fmt.Errorf("%w: hidden_dim (%d) must be divisible by num_heads (%d)",
			tensor.ErrShapeMismatch, c.HiddenDim, c.NumHeads)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative, got %d", c.Parallelism)
	}
	return nil
}

// HeadDimension returns the dimension per attention head.
func (c AttentionConfig) HeadDimension() int {
	return c.HiddenDim / c.NumHeads
}
