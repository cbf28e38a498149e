package tensor

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// TestNewTensor tests tensor creation
func TestNewTensor(t *testing.T) {
	tests := []struct {
		name     string
		shape    []int
		expected int
		strides  []int
	}{
		{"1D", []int{5}, 5, []int{1}},
		{"2D", []int{3, 4}, 12, []int{4, 1}},
		{"4D", []int{2, 4, 10, 64}, 5120, []int{2560, 640, 64, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor := NewTensor(tt.shape)

			if !shapeEquals(tensor.Shape, tt.shape) {
				t.Errorf("Expected shape %v, got %v", tt.shape, tensor.Shape)
			}
			if !shapeEquals(tensor.Strides, tt.strides) {
				t.Errorf("Expected strides %v, got %v", tt.strides, tensor.Strides)
			}
			if len(tensor.Data) != tt.expected {
				t.Errorf("Expected data length %d, got %d", tt.expected, len(tensor.Data))
			}
			for i, v := range tensor.Data {
				if v != 0 {
					t.Errorf("Expected zero at index %d, got %f", i, v)
				}
			}
		})
	}
}

// TestFromSlice tests creating tensor from slice
func TestFromSlice(t *testing.T) {
	tests := []struct {
		name      string
		data      []float32
		shape     []int
		wantErr   bool
		errString string
	}{
		{
			name:  "valid 2D",
			data:  []float32{1, 2, 3, 4, 5, 6},
			shape: []int{2, 3},
		},
		{
			name:  "valid 3D",
			data:  []float32{1, 2, 3, 4, 5, 6, 7, 8},
			shape: []int{2, 2, 2},
		},
		{
			name:      "size mismatch",
			data:      []float32{1, 2, 3},
			shape:     []int{2, 3},
			wantErr:   true,
			errString: "data size 3 does not match shape",
		},
		{
			name:      "negative dimension",
			data:      []float32{1, 2, 3, 4},
			shape:     []int{2, -2},
			wantErr:   true,
			errString: "invalid dimension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := FromSlice(tt.data, tt.shape)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got nil")
				}
				if !errors.Is(err, ErrShapeMismatch) {
					t.Errorf("Expected ErrShapeMismatch, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("Expected error containing %q, got %q", tt.errString, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !shapeEquals(tensor.Shape, tt.shape) {
				t.Errorf("Expected shape %v, got %v", tt.shape, tensor.Shape)
			}

			// The tensor owns a copy.
			tt.data[0] = 99
			if tensor.Data[0] == 99 {
				t.Error("FromSlice should copy its input")
			}
		})
	}
}

// TestView tests tensor reshaping
func TestView(t *testing.T) {
	tests := []struct {
		name      string
		shape     []int
		newShape  []int
		wantErr   bool
		errString string
	}{
		{name: "valid reshape 2x3 to 3x2", shape: []int{2, 3}, newShape: []int{3, 2}},
		{name: "split last axis into heads", shape: []int{2, 6}, newShape: []int{2, 3, 2}},
		{name: "size mismatch", shape: []int{2, 2}, newShape: []int{3, 2}, wantErr: true, errString: "cannot view tensor of size 4"},
		{name: "negative dimension", shape: []int{2, 2}, newShape: []int{-2, 2}, wantErr: true, errString: "invalid dimension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor := NewTensor(tt.shape)
			view, err := tensor.View(tt.newShape)

			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("Expected error containing %q, got %v", tt.errString, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !shapeEquals(view.Shape, tt.newShape) {
				t.Errorf("Expected shape %v, got %v", tt.newShape, view.Shape)
			}
			if &view.Data[0] != &tensor.Data[0] {
				t.Error("View should share data with original tensor")
			}
		})
	}
}

// TestReshape tests the panicking view and rank reporting
func TestReshape(t *testing.T) {
	tensor, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3})
	if tensor.NumDims() != 2 {
		t.Errorf("Expected 2 dimensions, got %d", tensor.NumDims())
	}

	r := tensor.Reshape([]int{3, 1, 2})
	if r.NumDims() != 3 || !shapeEquals(r.Shape, []int{3, 1, 2}) {
		t.Errorf("Expected shape [3 1 2], got %v", r.Shape)
	}
	if r.Get([]int{2, 0, 1}) != 6 {
		t.Errorf("Expected last element 6, got %f", r.Get([]int{2, 0, 1}))
	}

	defer func() {
		if recover() == nil {
			t.Error("Expected Reshape to panic on size mismatch")
		}
	}()
	tensor.Reshape([]int{4, 2})
}

// TestCheckData tests data length validation of hand-built tensors
func TestCheckData(t *testing.T) {
	if err := NewTensor([]int{2, 3}).CheckData(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	bad := []*Tensor{
		{Data: make([]float32, 5), Shape: []int{2, 3}},
		{Data: make([]float32, 7), Shape: []int{2, 3}},
		{Data: nil, Shape: []int{-1, 3}},
	}
	for i, tensor := range bad {
		if err := tensor.CheckData(); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Case %d: expected ErrShapeMismatch, got %v", i, err)
		}
	}
}

// TestTranspose tests dimension swapping
func TestTranspose(t *testing.T) {
	tests := []struct {
		name      string
		data      []float32
		shape     []int
		dim1      int
		dim2      int
		expected  []float32
		errString string
	}{
		{
			name:     "transpose 2D",
			data:     []float32{1, 2, 3, 4, 5, 6},
			shape:    []int{2, 3},
			dim1:     0,
			dim2:     1,
			expected: []float32{1, 4, 2, 5, 3, 6},
		},
		{
			name:     "transpose 3D outer axes",
			data:     []float32{1, 2, 3, 4, 5, 6, 7, 8},
			shape:    []int{2, 2, 2},
			dim1:     0,
			dim2:     2,
			expected: []float32{1, 5, 3, 7, 2, 6, 4, 8},
		},
		{
			// (batch=1, seq=2, heads=2, head_dim=2) -> (1, heads, seq, head_dim)
			name:     "heads before sequence",
			data:     []float32{1, 2, 3, 4, 5, 6, 7, 8},
			shape:    []int{1, 2, 2, 2},
			dim1:     1,
			dim2:     2,
			expected: []float32{1, 2, 5, 6, 3, 4, 7, 8},
		},
		{
			name:      "invalid dim1",
			data:      []float32{1, 2, 3, 4},
			shape:     []int{2, 2},
			dim1:      -1,
			dim2:      1,
			errString: "invalid transpose dimensions",
		},
		{
			name:      "invalid dim2",
			data:      []float32{1, 2, 3, 4},
			shape:     []int{2, 2},
			dim1:      0,
			dim2:      5,
			errString: "invalid transpose dimensions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, _ := FromSlice(tt.data, tt.shape)
			transposed, err := tensor.Transpose(tt.dim1, tt.dim2)

			if tt.errString != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("Expected error containing %q, got %v", tt.errString, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			expectedShape := copyShape(tt.shape)
			expectedShape[tt.dim1], expectedShape[tt.dim2] = expectedShape[tt.dim2], expectedShape[tt.dim1]
			if !shapeEquals(transposed.Shape, expectedShape) {
				t.Errorf("Expected shape %v, got %v", expectedShape, transposed.Shape)
			}
			for i, v := range transposed.Data {
				if v != tt.expected[i] {
					t.Errorf("Data mismatch at index %d: expected %f, got %f", i, tt.expected[i], v)
				}
			}

			// Transposing back restores the original.
			back, err := transposed.Transpose(tt.dim1, tt.dim2)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !back.Equals(tensor, 0) {
				t.Errorf("Double transpose should restore %v, got %v", tensor.Data, back.Data)
			}
		})
	}
}

// TestMatMul tests matrix multiplication
func TestMatMul(t *testing.T) {
	tests := []struct {
		name          string
		aShape        []int
		bShape        []int
		aData         []float32
		bData         []float32
		expectedData  []float32
		expectedShape []int
		errString     string
	}{
		{
			name:          "2D matmul",
			aShape:        []int{2, 2},
			bShape:        []int{2, 2},
			aData:         []float32{1, 2, 3, 4},
			bData:         []float32{5, 6, 7, 8},
			expectedData:  []float32{19, 22, 43, 50},
			expectedShape: []int{2, 2},
		},
		{
			name:          "rectangular matmul",
			aShape:        []int{2, 3},
			bShape:        []int{3, 2},
			aData:         []float32{1, 2, 3, 4, 5, 6},
			bData:         []float32{7, 8, 9, 10, 11, 12},
			expectedData:  []float32{58, 64, 139, 154},
			expectedShape: []int{2, 2},
		},
		{
			name:          "batched matmul",
			aShape:        []int{2, 2, 2},
			bShape:        []int{2, 2, 2},
			aData:         []float32{1, 2, 3, 4, 5, 6, 7, 8},
			bData:         []float32{1, 0, 0, 1, 1, 0, 0, 1},
			expectedData:  []float32{1, 2, 3, 4, 5, 6, 7, 8},
			expectedShape: []int{2, 2, 2},
		},
		{
			name:          "3D by 2D broadcast",
			aShape:        []int{2, 1, 2},
			bShape:        []int{2, 2},
			aData:         []float32{1, 2, 3, 4},
			bData:         []float32{5, 6, 7, 8},
			expectedData:  []float32{19, 22, 43, 50},
			expectedShape: []int{2, 1, 2},
		},
		{
			name:          "2D by 3D broadcast",
			aShape:        []int{1, 2},
			bShape:        []int{2, 2, 1},
			aData:         []float32{1, 2},
			bData:         []float32{3, 4, 5, 6},
			expectedData:  []float32{11, 17},
			expectedShape: []int{2, 1, 1},
		},
		{
			name:      "incompatible shapes",
			aShape:    []int{2, 3},
			bShape:    []int{2, 3},
			aData:     []float32{1, 2, 3, 4, 5, 6},
			bData:     []float32{1, 2, 3, 4, 5, 6},
			errString: "inner dimensions 3 and 2 don't match",
		},
		{
			name:      "mismatched batch",
			aShape:    []int{2, 1, 1},
			bShape:    []int{3, 1, 1},
			aData:     []float32{1, 2},
			bData:     []float32{1, 2, 3},
			errString: "incompatible batch dimensions",
		},
		{
			name:      "1D tensor",
			aShape:    []int{4},
			bShape:    []int{4},
			aData:     []float32{1, 2, 3, 4},
			bData:     []float32{1, 2, 3, 4},
			errString: "requires at least 2D tensors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := FromSlice(tt.aData, tt.aShape)
			b, _ := FromSlice(tt.bData, tt.bShape)
			result, err := Matmul(a, b)

			if tt.errString != "" {
				if !errors.Is(err, ErrShapeMismatch) || !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("Expected shape mismatch containing %q, got %v", tt.errString, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !shapeEquals(result.Shape, tt.expectedShape) {
				t.Errorf("Expected shape %v, got %v", tt.expectedShape, result.Shape)
			}
			for i, v := range result.Data {
				if !floatEquals(v, tt.expectedData[i], 1e-5) {
					t.Errorf("Data mismatch at index %d: expected %f, got %f", i, tt.expectedData[i], v)
				}
			}
		})
	}
}

// TestLinear tests the x·Wᵗ + b projection kernel
func TestLinear(t *testing.T) {
	// x: (2, 1, 3), W: (2, 3), b: (2,)
	x, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{2, 1, 3})
	w, _ := FromSlice([]float32{1, 0, 0, 1, 1, 1}, []int{2, 3})
	b, _ := FromSlice([]float32{10, 20}, []int{2})

	result, err := Linear(x, w, b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !shapeEquals(result.Shape, []int{2, 1, 2}) {
		t.Errorf("Expected shape [2 1 2], got %v", result.Shape)
	}
	expected := []float32{11, 26, 14, 35}
	for i, v := range result.Data {
		if !floatEquals(v, expected[i], 1e-5) {
			t.Errorf("Data mismatch at index %d: expected %f, got %f", i, expected[i], v)
		}
	}

	noBias, err := Linear(x, w, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if noBias.Data[0] != 1 || noBias.Data[1] != 6 {
		t.Errorf("Expected [1 6 ...] without bias, got %v", noBias.Data)
	}

	shortBias, _ := FromSlice([]float32{1}, []int{1})
	wrongIn := NewTensor([]int{2, 4})
	for name, tc := range map[string]struct{ w, b *Tensor }{
		"input dim":  {wrongIn, nil},
		"bias shape": {w, shortBias},
		"1D weight":  {NewTensor([]int{3}), nil},
	} {
		if _, err := Linear(x, tc.w, tc.b); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%s: expected ErrShapeMismatch, got %v", name, err)
		}
	}
}

// TestAdd tests element-wise addition with broadcasting
func TestAdd(t *testing.T) {
	tests := []struct {
		name          string
		aShape        []int
		aData         []float32
		bShape        []int
		bData         []float32
		expectedShape []int
		expected      []float32
		wantErr       bool
	}{
		{
			name:   "same shape",
			aShape: []int{2, 2}, aData: []float32{1, 2, 3, 4},
			bShape: []int{2, 2}, bData: []float32{10, 20, 30, 40},
			expectedShape: []int{2, 2}, expected: []float32{11, 22, 33, 44},
		},
		{
			name:   "row broadcast",
			aShape: []int{2, 3}, aData: []float32{1, 2, 3, 4, 5, 6},
			bShape: []int{3}, bData: []float32{10, 20, 30},
			expectedShape: []int{2, 3}, expected: []float32{11, 22, 33, 14, 25, 36},
		},
		{
			name:   "column broadcast",
			aShape: []int{2, 1}, aData: []float32{1, 2},
			bShape: []int{1, 3}, bData: []float32{10, 20, 30},
			expectedShape: []int{2, 3}, expected: []float32{11, 21, 31, 12, 22, 32},
		},
		{
			name:   "incompatible",
			aShape: []int{2, 3}, aData: []float32{1, 2, 3, 4, 5, 6},
			bShape: []int{2}, bData: []float32{1, 2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := FromSlice(tt.aData, tt.aShape)
			b, _ := FromSlice(tt.bData, tt.bShape)
			result, err := Add(a, b)

			if tt.wantErr {
				if !errors.Is(err, ErrShapeMismatch) {
					t.Errorf("Expected ErrShapeMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !shapeEquals(result.Shape, tt.expectedShape) {
				t.Errorf("Expected shape %v, got %v", tt.expectedShape, result.Shape)
			}
			for i, v := range result.Data {
				if v != tt.expected[i] {
					t.Errorf("Data mismatch at index %d: expected %f, got %f", i, tt.expected[i], v)
				}
			}
		})
	}
}

func TestSoftmax(t *testing.T) {
	tests := []struct {
		name      string
		data      []float32
		shape     []int
		dim       int
		wantErr   bool
		errString string
	}{
		{name: "1D softmax", data: []float32{1, 2, 3}, shape: []int{3}, dim: 0},
		{name: "2D softmax dim0", data: []float32{1, 2, 3, 4, 5, 6}, shape: []int{2, 3}, dim: 0},
		{name: "2D softmax dim1", data: []float32{1, 2, 3, 4, 5, 6}, shape: []int{2, 3}, dim: 1},
		{name: "invalid dim", data: []float32{1, 2, 3}, shape: []int{3}, dim: 5, wantErr: true, errString: "invalid dimension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, _ := FromSlice(tt.data, tt.shape)
			result, err := Softmax(tensor, tt.dim)

			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), tt.errString) {
					t.Errorf("Expected error containing %q, got %v", tt.errString, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !shapeEquals(result.Shape, tt.shape) {
				t.Errorf("Expected shape %v, got %v", tt.shape, result.Shape)
			}

			// Every slice along dim sums to 1.
			outer := numElements(tt.shape[:tt.dim])
			n := tt.shape[tt.dim]
			inner := numElements(tt.shape[tt.dim+1:])
			for o := 0; o < outer; o++ {
				for in := 0; in < inner; in++ {
					var sum float32
					for i := 0; i < n; i++ {
						sum += result.Data[o*n*inner+i*inner+in]
					}
					if !floatEquals(sum, 1, 1e-5) {
						t.Errorf("Slice (%d, %d) sums to %f, expected 1", o, in, sum)
					}
				}
			}

			// Input is untouched.
			if tensor.Data[0] != tt.data[0] {
				t.Error("Softmax modified its input")
			}
		})
	}
}

// TestSoftmaxNumericalStability tests softmax with large values
func TestSoftmaxNumericalStability(t *testing.T) {
	data := []float32{1000, 1001, 1002}
	tensor, _ := FromSlice(data, []int{3})
	result, err := Softmax(tensor, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sum := float32(0)
	for i, v := range result.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Errorf("Softmax produced non-finite value at index %d", i)
		}
		sum += v
	}
	if !floatEquals(sum, 1.0, 1e-5) {
		t.Errorf("Softmax values should sum to 1, got %f", sum)
	}
}

// TestSoftmaxRowMasked tests the fully-masked row policy
func TestSoftmaxRowMasked(t *testing.T) {
	negInf := float32(math.Inf(-1))

	row := []float32{0.5, negInf, 1.5, negInf}
	if !SoftmaxRow(row) {
		t.Fatal("Expected partially masked row to normalize")
	}
	if row[1] != 0 || row[3] != 0 {
		t.Errorf("Masked positions should be exactly zero, got %v", row)
	}
	if !floatEquals(row[0]+row[2], 1, 1e-6) {
		t.Errorf("Unmasked positions should sum to 1, got %v", row)
	}

	all := []float32{negInf, negInf, negInf}
	if SoftmaxRow(all) {
		t.Error("Expected fully masked row to report false")
	}
	for i, v := range all {
		if v != 0 {
			t.Errorf("Fully masked row index %d: expected 0, got %f", i, v)
		}
	}

	// NaN scores are not a masked row and must stay visible.
	for _, nanRow := range [][]float32{
		{float32(math.NaN()), float32(math.NaN())},
		{negInf, float32(math.NaN()), negInf},
		{0.5, float32(math.NaN()), 1.5},
	} {
		if !SoftmaxRow(nanRow) {
			t.Errorf("Expected row with NaN to report true")
		}
		for i, v := range nanRow {
			if !math.IsNaN(float64(v)) {
				t.Errorf("Row with NaN index %d: expected NaN, got %f", i, v)
			}
		}
	}
}

// TestScale tests scalar multiplication
func TestScale(t *testing.T) {
	tensor, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{2, 3})
	result := tensor.Scale(2.5)

	expected := []float32{2.5, 5, 7.5, 10, 12.5, 15}
	for i, v := range result.Data {
		if !floatEquals(v, expected[i], 1e-5) {
			t.Errorf("Data mismatch at index %d: expected %f, got %f", i, expected[i], v)
		}
	}
	if tensor.Data[0] != 1 {
		t.Error("Scale modified its input")
	}
}

// TestSliceN tests tensor slicing
func TestSliceN(t *testing.T) {
	tensor, _ := FromSlice([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	}, []int{3, 4})

	result, err := tensor.SliceN([]int{1, 2}, []int{3, 4})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	expected := []float32{7, 8, 11, 12}
	if !shapeEquals(result.Shape, []int{2, 2}) {
		t.Errorf("Expected shape [2 2], got %v", result.Shape)
	}
	for i, v := range result.Data {
		if v != expected[i] {
			t.Errorf("Data mismatch at index %d: expected %f, got %f", i, expected[i], v)
		}
	}

	if _, err := tensor.SliceN([]int{0, 3}, []int{3, 2}); err == nil {
		t.Error("Expected error for end before start")
	}
	if _, err := tensor.SliceN([]int{0}, []int{3}); err == nil {
		t.Error("Expected error for rank mismatch")
	}
}

// TestCheckFinite tests non-finite detection
func TestCheckFinite(t *testing.T) {
	tensor, _ := FromSlice([]float32{1, 2, 3}, []int{3})
	if err := CheckFinite("x", tensor); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	tensor.Data[1] = float32(math.NaN())
	err := CheckFinite("x", tensor)
	if !errors.Is(err, ErrNumericInstability) {
		t.Fatalf("Expected ErrNumericInstability, got %v", err)
	}
	if !strings.Contains(err.Error(), "flat index 1") {
		t.Errorf("Expected error to name index 1, got %q", err.Error())
	}
}

// TestString tests string representation
func TestString(t *testing.T) {
	tensor := NewTensor([]int{2, 3})
	tensor.Data[0] = 1.5
	tensor.Data[1] = 2.5
	tensor.Data[2] = 3.5

	str := tensor.String()
	if !strings.HasPrefix(str, "Tensor[2, 3]") {
		t.Errorf("String() should start with shape, got %q", str)
	}
	if !strings.Contains(str, "1.5") {
		t.Error("String() should contain '1.5'")
	}
}

func BenchmarkMatmulBatched(b *testing.B) {
	a := NewTensor([]int{8, 10, 64})
	c := NewTensor([]int{8, 64, 10})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Matmul(a, c); err != nil {
			b.Fatal(err)
		}
	}
}

// Helper functions

func shapeEquals(a, b []int) bool {
	return shapeEqual(a, b)
}

func floatEquals(a, b, tolerance float32) bool {
	return math.Abs(float64(a-b)) < float64(tolerance)
}
