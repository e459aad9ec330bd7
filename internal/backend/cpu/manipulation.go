package cpu

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/tensor"
)

// Reverse flips x along each of axes. Negative axes count from the end.
// Works for any dtype since it only moves bytes.
func (cpu *CPUBackend) Reverse(x *tensor.Tensor, axes []int) (*tensor.Tensor, error) {
	shape := x.Shape()
	flip := make([]bool, len(shape))
	for _, a := range axes {
		if a < 0 {
			a += len(shape)
		}
		if a < 0 || a >= len(shape) {
			return nil, fmt.Errorf("reverse: axis out of range for rank %d", len(shape))
		}
		flip[a] = true
	}

	out, err := tensor.New(x.DType(), shape)
	if err != nil {
		return nil, fmt.Errorf("reverse: %w", err)
	}
	size := x.DType().Size()
	src, dst := x.Data(), out.Data()
	strides := shape.ComputeStrides()

	for i := 0; i < x.NumElements(); i++ {
		j, rem := 0, i
		for d, s := range strides {
			idx := rem / s
			rem %= s
			if flip[d] {
				idx = shape[d] - 1 - idx
			}
			j += idx * s
		}
		copy(dst[j*size:(j+1)*size], src[i*size:(i+1)*size])
	}
	return out, nil
}
