package graphdef

import (
	"fmt"
	"math"

	"github.com/born-ml/graphfreeze/internal/tensor"
)

// FromTensorDType maps a runtime dtype to its TensorFlow enum.
func FromTensorDType(dt tensor.DataType) (DataType, error) {
	switch dt {
	case tensor.Float32:
		return DTFloat, nil
	case tensor.Float64:
		return DTDouble, nil
	case tensor.Int32:
		return DTInt32, nil
	case tensor.Int64:
		return DTInt64, nil
	case tensor.Uint8:
		return DTUint8, nil
	case tensor.Bool:
		return DTBool, nil
	default:
		return DTInvalid, fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
	}
}

// TensorType maps a TensorFlow enum to the runtime dtype.
func TensorType(dt DataType) (tensor.DataType, error) {
	switch dt {
	case DTFloat:
		return tensor.Float32, nil
	case DTDouble:
		return tensor.Float64, nil
	case DTInt32:
		return tensor.Int32, nil
	case DTInt64:
		return tensor.Int64, nil
	case DTUint8:
		return tensor.Uint8, nil
	case DTBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
	}
}

// TensorProtoFromTensor encodes t with its raw bytes in tensor_content.
func TensorProtoFromTensor(t *tensor.Tensor) (*TensorProto, error) {
	dt, err := FromTensorDType(t.DType())
	if err != nil {
		return nil, err
	}
	content := make([]byte, t.ByteSize())
	copy(content, t.Data())
	return &TensorProto{
		Dtype:         dt,
		TensorShape:   ShapeProto(t.Shape()...),
		TensorContent: content,
	}, nil
}

// MaxTensorBytes bounds a constant expanded from a short typed value list.
// It matches the 2 GiB limit on a serialized graph.
const MaxTensorBytes = math.MaxInt32

// TensorFromProto decodes the proto into a runtime tensor.
//
// tensor_content wins when present. Otherwise the typed value list is used;
// a list shorter than the element count repeats its last value, and an empty
// list means zeros.
func TensorFromProto(p *TensorProto) (*tensor.Tensor, error) {
	dt, err := TensorType(p.GetDtype())
	if err != nil {
		return nil, err
	}
	if p.GetTensorShape().GetUnknownRank() {
		return nil, fmt.Errorf("%w: constant tensor with unknown rank", ErrMalformed)
	}
	shape := tensor.Shape{}
	for _, d := range p.GetTensorShape().GetDim() {
		if d.GetSize() > math.MaxInt {
			return nil, fmt.Errorf("%w: constant tensor dimension %d", ErrMalformed, d.GetSize())
		}
		shape = append(shape, int(d.GetSize()))
	}
	size, err := tensor.BufferSize(dt, shape)
	if err != nil {
		return nil, fmt.Errorf("%w: constant tensor shape: %v", ErrMalformed, err)
	}

	if len(p.GetTensorContent()) > 0 {
		if len(p.GetTensorContent()) != size {
			return nil, fmt.Errorf("%w: tensor_content has %d bytes, shape %v of %s needs %d",
				ErrMalformed, len(p.GetTensorContent()), shape, dt, size)
		}
		return tensor.FromBytes(dt, shape, p.GetTensorContent())
	}
	if size > MaxTensorBytes {
		return nil, fmt.Errorf("%w: constant tensor of %d bytes", ErrMalformed, size)
	}

	t, err := tensor.New(dt, shape)
	if err != nil {
		return nil, err
	}
	n := t.NumElements()
	switch dt {
	case tensor.Float32:
		err = fill(t.AsFloat32(), p.GetFloatVal(), n)
	case tensor.Float64:
		err = fill(t.AsFloat64(), p.GetDoubleVal(), n)
	case tensor.Int32:
		err = fill(t.AsInt32(), p.GetIntVal(), n)
	case tensor.Int64:
		err = fill(t.AsInt64(), p.GetInt64Val(), n)
	case tensor.Uint8:
		vals := make([]byte, len(p.GetIntVal()))
		for i, v := range p.GetIntVal() {
			vals[i] = byte(v) //nolint:gosec // G115: uint8 values travel as int_val
		}
		err = fill(t.Data(), vals, n)
	case tensor.Bool:
		vals := make([]byte, len(p.GetBoolVal()))
		for i, v := range p.GetBoolVal() {
			if v {
				vals[i] = 1
			}
		}
		err = fill(t.Data(), vals, n)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func fill[T any](dst, vals []T, n int) error {
	if len(vals) > n {
		return fmt.Errorf("%w: %d values for %d elements", ErrMalformed, len(vals), n)
	}
	if len(vals) == 0 {
		return nil
	}
	copy(dst, vals)
	last := vals[len(vals)-1]
	for i := len(vals); i < n; i++ {
		dst[i] = last
	}
	return nil
}
