// Package cpu implements the float32 kernels that graph sessions execute.
//
// Layouts follow TensorFlow conventions so frozen graphs keep their meaning:
// images are NHWC, convolution filters are HWIO, and matrices are row-major.
package cpu

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/parallel"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

// CPUBackend executes tensor kernels on the host.
type CPUBackend struct {
	cfg parallel.Config
}

// New creates a CPU backend that fans work out over all CPUs.
func New() *CPUBackend {
	return &CPUBackend{cfg: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with an explicit parallel config.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{cfg: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// BiasAdd adds a rank-1 bias along the last axis of value.
func (cpu *CPUBackend) BiasAdd(value, bias *tensor.Tensor) (*tensor.Tensor, error) {
	if err := requireFloat32("bias_add", value, bias); err != nil {
		return nil, err
	}
	vs := value.Shape()
	if len(vs) < 1 || len(bias.Shape()) != 1 {
		return nil, fmt.Errorf("bias_add: need value rank >= 1 and rank-1 bias, got %v and %v", vs, bias.Shape())
	}
	c := vs[len(vs)-1]
	if bias.Shape()[0] != c {
		return nil, fmt.Errorf("bias_add: bias size %d does not match last dimension %d", bias.Shape()[0], c)
	}

	out, err := tensor.New(tensor.Float32, vs)
	if err != nil {
		return nil, fmt.Errorf("bias_add: %w", err)
	}
	src, dst, b := value.AsFloat32(), out.AsFloat32(), bias.AsFloat32()
	if c == 0 {
		return out, nil
	}
	rows := len(src) / c
	parallel.For(rows, func(r int) {
		off := r * c
		for j := 0; j < c; j++ {
			dst[off+j] = src[off+j] + b[j]
		}
	}, cpu.cfg)
	return out, nil
}

// binary applies f element-wise over the broadcast shape of a and b.
func (cpu *CPUBackend) binary(op string, a, b *tensor.Tensor, f func(x, y float32) float32) (*tensor.Tensor, error) {
	if err := requireFloat32(op, a, b); err != nil {
		return nil, err
	}
	outShape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := tensor.New(tensor.Float32, outShape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	av, bv, dst := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()

	// Fast path: identical shapes.
	if a.Shape().Equal(b.Shape()) {
		parallel.For(len(dst), func(i int) {
			dst[i] = f(av[i], bv[i])
		}, cpu.cfg)
		return out, nil
	}

	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	outStrides := outShape.ComputeStrides()

	parallel.For(len(dst), func(i int) {
		ai, bi, rem := 0, 0, i
		for d, s := range outStrides {
			idx := rem / s
			rem %= s
			ai += idx * aStrides[d]
			bi += idx * bStrides[d]
		}
		dst[i] = f(av[ai], bv[bi])
	}, cpu.cfg)
	return out, nil
}

// broadcastStrides returns the strides of shape aligned to out,
// with 0 wherever shape is broadcast.
func broadcastStrides(shape, out tensor.Shape) []int {
	strides := make([]int, len(out))
	own := shape.ComputeStrides()
	offset := len(out) - len(shape)
	for i := range shape {
		if shape[i] != 1 {
			strides[offset+i] = own[i]
		}
	}
	return strides
}

func requireFloat32(op string, ts ...*tensor.Tensor) error {
	for _, t := range ts {
		if t == nil {
			return fmt.Errorf("%s: missing operand", op)
		}
		if t.DType() != tensor.Float32 {
			return fmt.Errorf("%s: unsupported dtype %s (float32 only)", op, t.DType())
		}
	}
	return nil
}
