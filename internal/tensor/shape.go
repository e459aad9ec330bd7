package tensor

import (
	"fmt"
	"math"
)

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is concrete (>= 0) and that the
// element count fits an int.
// Zero-sized dimensions are legal, unknown (-1) ones are not.
func (s Shape) Validate() error {
	_, err := s.checkedNumElements()
	return err
}

func (s Shape) checkedNumElements() (int, error) {
	empty := false
	for i, dim := range s {
		if dim < 0 {
			return 0, fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
		empty = empty || dim == 0
	}
	if empty {
		return 0, nil
	}
	n := 1
	for _, dim := range s {
		if n > math.MaxInt/dim {
			return 0, fmt.Errorf("%w: shape %v overflows the element count", ErrTooLarge, s)
		}
		n *= dim
	}
	return n, nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String formats the shape the way TensorFlow prints static shapes,
// with unknown dimensions shown as "?".
func (s Shape) String() string {
	out := "("
	for i, dim := range s {
		if i > 0 {
			out += ", "
		}
		if dim < 0 {
			out += "?"
		} else {
			out += fmt.Sprint(dim)
		}
	}
	if len(s) == 1 {
		out += ","
	}
	return out + ")"
}

// Compatible reports whether a concrete shape satisfies a partially known one.
// Dimensions of -1 in s match anything.
func (s Shape) Compatible(concrete Shape) bool {
	if len(s) != len(concrete) {
		return false
	}
	for i := range s {
		if s[i] >= 0 && s[i] != concrete[i] {
			return false
		}
	}
	return true
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5)
//	(5,)   + (3, 5) → (3, 5)
//	(3, 4) + (3, 5) → error
func BroadcastShapes(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	result := make(Shape, n)

	for i := 0; i < n; i++ {
		aDim, bDim := 1, 1
		if j := len(a) - 1 - i; j >= 0 {
			aDim = a[j]
		}
		if j := len(b) - 1 - i; j >= 0 {
			bDim = b[j]
		}

		switch {
		case aDim == bDim:
			result[n-1-i] = aDim
		case aDim == 1:
			result[n-1-i] = bDim
		case bDim == 1:
			result[n-1-i] = aDim
		default:
			return nil, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, n-1-i, aDim, bDim)
		}
	}

	return result, nil
}
