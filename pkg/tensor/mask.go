package tensor

import "fmt"

// Mask is a boolean tensor of shape (batch, seq) where true marks a position to
// exclude from attention. Masks are read-only once handed to a consumer.
type Mask struct {
	Data  []bool
	Shape []int
}

// NewMask creates an all-false (nothing masked) mask of shape (batch, seqLen).
func NewMask(batch, seqLen int) *Mask {
	return &Mask{
		Data:  make([]bool, batch*seqLen),
		Shape: []int{batch, seqLen},
	}
}

// MaskFromSlice creates a mask of shape (batch, seqLen) from row-major data.
// The data is copied.
func MaskFromSlice(data []bool, batch, seqLen int) (*Mask, error) {
	if batch < 0 || seqLen < 0 {
		return nil, fmt.Errorf("%w: invalid mask shape [%d, %d]", ErrShapeMismatch, batch, seqLen)
	}
	if len(data) != batch*seqLen {
		return nil, fmt.Errorf("%w: mask data size %d does not match shape [%d, %d]",
			ErrShapeMismatch, len(data), batch, seqLen)
	}

	m := NewMask(batch, seqLen)
	copy(m.Data, data)
	return m, nil
}

// NewPaddingMask masks every position at or beyond each batch element's valid
// length. validLengths has one entry per batch element.
func NewPaddingMask(validLengths []int, seqLen int) (*Mask, error) {
	m := NewMask(len(validLengths), seqLen)
	for b, n := range validLengths {
		if n < 0 || n > seqLen {
			return nil, fmt.Errorf("%w: valid length %d for batch %d out of range [0, %d]",
				ErrShapeMismatch, n, b, seqLen)
		}
		row := m.Data[b*seqLen : (b+1)*seqLen]
		for j := n; j < seqLen; j++ {
			row[j] = true
		}
	}
	return m, nil
}

// CheckData reports whether the mask is a (batch, seq) mask whose Data holds
// exactly batch*seq entries.
func (m *Mask) CheckData() error {
	if len(m.Shape) != 2 || m.Shape[0] < 0 || m.Shape[1] < 0 {
		return fmt.Errorf("%w: mask must be 2D (batch, seq), got shape %v", ErrShapeMismatch, m.Shape)
	}
	if n := m.Shape[0] * m.Shape[1]; len(m.Data) != n {
		return fmt.Errorf("%w: mask data size %d does not match shape %v", ErrShapeMismatch, len(m.Data), m.Shape)
	}
	return nil
}

// Batch returns the batch dimension.
func (m *Mask) Batch() int { return m.Shape[0] }

// SeqLen returns the sequence dimension.
func (m *Mask) SeqLen() int { return m.Shape[1] }

// Row returns the mask row for batch element b. The slice aliases the mask.
func (m *Mask) Row(b int) []bool {
	n := m.Shape[1]
	return m.Data[b*n : (b+1)*n]
}

// Masked reports whether position j of batch element b is excluded.
func (m *Mask) Masked(b, j int) bool {
	return m.Data[b*m.Shape[1]+j]
}
