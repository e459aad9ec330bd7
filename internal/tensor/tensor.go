package tensor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// Tensor is a dense, row-major tensor backed by a little-endian byte buffer.
//
// The byte buffer is the serialized layout as well: it is what ends up in a
// TensorProto's tensor_content, so freezing a variable is a copy, not a
// conversion.
type Tensor struct {
	dtype DataType
	shape Shape
	data  []byte
}

// ErrTooLarge is returned when a shape's byte size does not fit an int.
var ErrTooLarge = errors.New("tensor too large")

// BufferSize returns the buffer size a tensor of dtype and shape needs.
func BufferSize(dtype DataType, shape Shape) (int, error) {
	n, err := shape.checkedNumElements()
	if err != nil {
		return 0, fmt.Errorf("invalid shape: %w", err)
	}
	if size := dtype.Size(); n > math.MaxInt/size {
		return 0, fmt.Errorf("%w: %d elements of %s", ErrTooLarge, n, dtype)
	}
	return n * dtype.Size(), nil
}

// New allocates a zero-filled tensor.
func New(dtype DataType, shape Shape) (*Tensor, error) {
	size, err := BufferSize(dtype, shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{
		dtype: dtype,
		shape: shape.Clone(),
		data:  make([]byte, size),
	}, nil
}

// FromBytes wraps raw little-endian data. The slice is copied.
// The length is checked before anything is allocated.
func FromBytes(dtype DataType, shape Shape, data []byte) (*Tensor, error) {
	size, err := BufferSize(dtype, shape)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("data size %d does not match shape %v of %s (%d bytes)",
			len(data), shape, dtype, size)
	}
	t := &Tensor{dtype: dtype, shape: shape.Clone(), data: make([]byte, size)}
	copy(t.data, data)
	return t, nil
}

// FromFloat32 creates a float32 tensor from values.
func FromFloat32(values []float32, shape Shape) (*Tensor, error) {
	t, err := New(Float32, shape)
	if err != nil {
		return nil, err
	}
	if len(values) != shape.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v", len(values), shape)
	}
	copy(t.AsFloat32(), values)
	return t, nil
}

// FromInt32 creates an int32 tensor from values.
func FromInt32(values []int32, shape Shape) (*Tensor, error) {
	t, err := New(Int32, shape)
	if err != nil {
		return nil, err
	}
	if len(values) != shape.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v", len(values), shape)
	}
	copy(t.AsInt32(), values)
	return t, nil
}

// FromInt64 creates an int64 tensor from values.
func FromInt64(values []int64, shape Shape) (*Tensor, error) {
	t, err := New(Int64, shape)
	if err != nil {
		return nil, err
	}
	if len(values) != shape.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v", len(values), shape)
	}
	copy(t.AsInt64(), values)
	return t, nil
}

// Scalar creates a rank-0 float32 tensor.
func Scalar(v float32) *Tensor {
	t := &Tensor{dtype: Float32, shape: Shape{}, data: make([]byte, 4)}
	binary.LittleEndian.PutUint32(t.data, math.Float32bits(v))
	return t
}

// Vector creates a rank-1 int32 tensor, the usual type for shape and axis operands.
func Vector(values ...int32) *Tensor {
	t, _ := FromInt32(values, Shape{len(values)}) //nolint:errcheck // length always matches
	return t
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// ByteSize returns the size of the backing buffer.
func (t *Tensor) ByteSize() int {
	return len(t.data)
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory.
func (t *Tensor) Data() []byte {
	return t.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (t *Tensor) AsFloat64() []float64 {
	if t.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (t *Tensor) AsInt32() []int32 {
	if t.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (t *Tensor) AsInt64() []int64 {
	if t.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// Ints returns the values of an integer tensor widened to int.
// Shape and axis operands may be int32 or int64.
func (t *Tensor) Ints() ([]int, error) {
	out := make([]int, 0, t.NumElements())
	switch t.dtype {
	case Int32:
		for _, v := range t.AsInt32() {
			out = append(out, int(v))
		}
	case Int64:
		for _, v := range t.AsInt64() {
			out = append(out, int(v))
		}
	default:
		return nil, fmt.Errorf("expected an integer tensor, got %s", t.dtype)
	}
	return out, nil
}

// Reshape returns a view with a new shape sharing the same buffer.
// A single dimension may be -1 and is inferred.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	out := shape.Clone()
	infer := -1
	known := 1
	for i, dim := range out {
		switch {
		case dim == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: only one dimension can be -1, got %v", shape)
			}
			infer = i
		case dim < 0:
			return nil, fmt.Errorf("reshape: invalid dimension %d in %v", dim, shape)
		default:
			known *= dim
		}
	}
	n := t.NumElements()
	if infer >= 0 {
		if known == 0 || n%known != 0 {
			return nil, fmt.Errorf("reshape: cannot infer dimension of %v from %d elements", shape, n)
		}
		out[infer] = n / known
	}
	m, err := out.checkedNumElements()
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	if m != n {
		return nil, fmt.Errorf("reshape: cannot reshape %v (%d elements) into %v", t.shape, n, shape)
	}
	return &Tensor{dtype: t.dtype, shape: out, data: t.data}, nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]byte, len(t.data))
	copy(data, t.data)
	return &Tensor{dtype: t.dtype, shape: t.shape.Clone(), data: data}
}

// Equal reports whether both tensors have the same dtype, shape and bytes.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil {
		return false
	}
	return t.dtype == other.dtype && t.shape.Equal(other.shape) && bytes.Equal(t.data, other.data)
}

// AllClose compares two float32 tensors element-wise within tol.
func (t *Tensor) AllClose(other *Tensor, tol float64) bool {
	if other == nil || t.dtype != Float32 || other.dtype != Float32 || !t.shape.Equal(other.shape) {
		return false
	}
	a, b := t.AsFloat32(), other.AsFloat32()
	for i := range a {
		if math.Abs(float64(a[i])-float64(b[i])) > tol {
			return false
		}
	}
	return true
}

// String returns a short description such as "float32(2, 3)".
func (t *Tensor) String() string {
	return t.dtype.String() + t.shape.String()
}
