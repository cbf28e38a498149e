package tensor

import "errors"

var (
	// ErrShapeMismatch is returned for any dimension incompatibility. Callers
	// wrap it with the offending shapes; match it with errors.Is.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNumericInstability reports NaN or Inf values found by CheckFinite.
	ErrNumericInstability = errors.New("numeric instability")
)
