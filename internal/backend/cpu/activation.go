package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/graphfreeze/internal/parallel"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

// ReLU computes max(0, x).
func (cpu *CPUBackend) ReLU(x *tensor.Tensor) (*tensor.Tensor, error) {
	return cpu.unary("relu", x, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// Sigmoid computes 1 / (1 + exp(-x)).
func (cpu *CPUBackend) Sigmoid(x *tensor.Tensor) (*tensor.Tensor, error) {
	return cpu.unary("sigmoid", x, func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	})
}

// Tanh computes the hyperbolic tangent.
func (cpu *CPUBackend) Tanh(x *tensor.Tensor) (*tensor.Tensor, error) {
	return cpu.unary("tanh", x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// Softmax normalizes along the last axis.
// The row maximum is subtracted first so large logits do not overflow.
func (cpu *CPUBackend) Softmax(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := requireFloat32("softmax", x); err != nil {
		return nil, err
	}
	shape := x.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("softmax: input must have rank >= 1")
	}
	out, err := tensor.New(tensor.Float32, shape)
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}
	c := shape[len(shape)-1]
	if c == 0 {
		return out, nil
	}
	src, dst := x.AsFloat32(), out.AsFloat32()
	rows := len(src) / c

	parallel.For(rows, func(r int) {
		in := src[r*c : (r+1)*c]
		o := dst[r*c : (r+1)*c]
		m := in[0]
		for _, v := range in[1:] {
			if v > m {
				m = v
			}
		}
		var sum float64
		for j, v := range in {
			e := math.Exp(float64(v - m))
			o[j] = float32(e)
			sum += e
		}
		for j := range o {
			o[j] = float32(float64(o[j]) / sum)
		}
	}, cpu.cfg)
	return out, nil
}

func (cpu *CPUBackend) unary(op string, x *tensor.Tensor, f func(float32) float32) (*tensor.Tensor, error) {
	if err := requireFloat32(op, x); err != nil {
		return nil, err
	}
	out, err := tensor.New(tensor.Float32, x.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	src, dst := x.AsFloat32(), out.AsFloat32()
	parallel.For(len(dst), func(i int) {
		dst[i] = f(src[i])
	}, cpu.cfg)
	return out, nil
}
