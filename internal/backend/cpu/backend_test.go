package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/graphfreeze/internal/parallel"
	"github.com/born-ml/graphfreeze/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFloat32(t *testing.T, values []float32, shape tensor.Shape) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromFloat32(values, shape)
	require.NoError(t, err)
	return x
}

func backends() map[string]*CPUBackend {
	return map[string]*CPUBackend{
		"sequential": NewWithConfig(parallel.Sequential()),
		"parallel":   NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}),
	}
}

func TestAddBroadcast(t *testing.T) {
	for name, cpu := range backends() {
		t.Run(name, func(t *testing.T) {
			a := mustFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
			b := mustFloat32(t, []float32{10, 20, 30}, tensor.Shape{3})

			out, err := cpu.Add(a, b)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
			assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.AsFloat32())

			col := mustFloat32(t, []float32{1, 2}, tensor.Shape{2, 1})
			out, err = cpu.Sub(a, col)
			require.NoError(t, err)
			assert.Equal(t, []float32{0, 1, 2, 2, 3, 4}, out.AsFloat32())

			out, err = cpu.Mul(a, tensor.Scalar(2))
			require.NoError(t, err)
			assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, out.AsFloat32())

			_, err = cpu.Add(a, mustFloat32(t, []float32{1, 2}, tensor.Shape{2}))
			assert.Error(t, err)
		})
	}
}

func TestBiasAdd(t *testing.T) {
	cpu := New()
	v := mustFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := mustFloat32(t, []float32{0.5, -1}, tensor.Shape{2})
	out, err := cpu.BiasAdd(v, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 1, 3.5, 3}, out.AsFloat32())

	_, err = cpu.BiasAdd(v, mustFloat32(t, []float32{1, 2, 3}, tensor.Shape{3}))
	assert.Error(t, err)
}

func TestMatMul(t *testing.T) {
	for name, cpu := range backends() {
		t.Run(name, func(t *testing.T) {
			a := mustFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
			b := mustFloat32(t, []float32{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

			out, err := cpu.MatMul(a, b, false, false)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
			assert.Equal(t, []float32{58, 64, 139, 154}, out.AsFloat32())

			// a^T is [3,2]; a^T @ a is [3,3].
			out, err = cpu.MatMul(a, a, true, false)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{3, 3}, out.Shape())
			assert.Equal(t, []float32{17, 22, 27, 22, 29, 36, 27, 36, 45}, out.AsFloat32())

			// a @ a^T is [2,2].
			out, err = cpu.MatMul(a, a, false, true)
			require.NoError(t, err)
			assert.Equal(t, []float32{14, 32, 32, 77}, out.AsFloat32())

			_, err = cpu.MatMul(a, a, false, false)
			assert.Error(t, err)
		})
	}
}

func TestActivations(t *testing.T) {
	cpu := New()
	x := mustFloat32(t, []float32{-1, 0, 2}, tensor.Shape{3})

	out, err := cpu.ReLU(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 2}, out.AsFloat32())

	out, err = cpu.Sigmoid(x)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out.AsFloat32()[1], 1e-6)

	out, err = cpu.Tanh(x)
	require.NoError(t, err)
	assert.InDelta(t, math.Tanh(2), out.AsFloat32()[2], 1e-6)

	_, err = cpu.ReLU(tensor.Vector(1, 2))
	assert.Error(t, err, "int32 input")
}

func TestSoftmax(t *testing.T) {
	cpu := New()
	x := mustFloat32(t, []float32{1, 2, 3, 1000, 1000, 1000}, tensor.Shape{2, 3})
	out, err := cpu.Softmax(x)
	require.NoError(t, err)

	got := out.AsFloat32()
	var sum float32
	for _, v := range got[:3] {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.InDelta(t, 0.66524, got[2], 1e-4)
	for _, v := range got[3:] {
		assert.InDelta(t, 1.0/3, v, 1e-5, "large logits must not overflow")
	}
}

func TestConv2D(t *testing.T) {
	for name, cpu := range backends() {
		t.Run(name, func(t *testing.T) {
			// 1x3x3x1 input, 2x2x1x1 filter of ones.
			in := mustFloat32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 3, 3, 1})
			f := mustFloat32(t, []float32{1, 1, 1, 1}, tensor.Shape{2, 2, 1, 1})

			out, err := cpu.Conv2D(in, f, 1, 1, PaddingValid)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{1, 2, 2, 1}, out.Shape())
			assert.Equal(t, []float32{12, 16, 24, 28}, out.AsFloat32())

			// SAME keeps 3x3; TF pads the extra row/col after.
			out, err = cpu.Conv2D(in, f, 1, 1, PaddingSame)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{1, 3, 3, 1}, out.Shape())
			assert.Equal(t, []float32{12, 16, 9, 24, 28, 15, 15, 17, 9}, out.AsFloat32())

			// Strided SAME.
			out, err = cpu.Conv2D(in, f, 2, 2, PaddingSame)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{1, 2, 2, 1}, out.Shape())
			assert.Equal(t, []float32{12, 9, 15, 9}, out.AsFloat32())
		})
	}
}

func TestConv2D_Channels(t *testing.T) {
	cpu := New()
	// 1x1x1x2 input, 1x1x2x3 filter: a pointwise matmul.
	in := mustFloat32(t, []float32{1, 2}, tensor.Shape{1, 1, 1, 2})
	f := mustFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 1, 2, 3})
	out, err := cpu.Conv2D(in, f, 1, 1, PaddingSame)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 12, 15}, out.AsFloat32())

	_, err = cpu.Conv2D(in, mustFloat32(t, []float32{1}, tensor.Shape{1, 1, 1, 1}), 1, 1, PaddingSame)
	assert.Error(t, err)
	_, err = cpu.Conv2D(in, f, 1, 1, "FULL")
	assert.Error(t, err)
}

func TestNonFiniteWeightsPropagate(t *testing.T) {
	inf := float32(math.Inf(1))
	for name, cpu := range backends() {
		t.Run(name, func(t *testing.T) {
			zeros := mustFloat32(t, []float32{0, 0}, tensor.Shape{1, 2})
			w := mustFloat32(t, []float32{inf, 1, 1, 1}, tensor.Shape{2, 2})
			out, err := cpu.MatMul(zeros, w, false, false)
			require.NoError(t, err)
			assert.True(t, math.IsNaN(float64(out.AsFloat32()[0])), "0 * Inf is NaN")
			assert.Equal(t, float32(0), out.AsFloat32()[1])

			in := mustFloat32(t, []float32{0}, tensor.Shape{1, 1, 1, 1})
			f := mustFloat32(t, []float32{inf}, tensor.Shape{1, 1, 1, 1})
			conv, err := cpu.Conv2D(in, f, 1, 1, PaddingValid)
			require.NoError(t, err)
			assert.True(t, math.IsNaN(float64(conv.AsFloat32()[0])))
		})
	}
}

func TestMaxPool(t *testing.T) {
	for name, cpu := range backends() {
		t.Run(name, func(t *testing.T) {
			vals := make([]float32, 16)
			for i := range vals {
				vals[i] = float32(i + 1)
			}
			in := mustFloat32(t, vals, tensor.Shape{1, 4, 4, 1})

			out, err := cpu.MaxPool(in, 2, 2, 2, 2, PaddingSame)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{1, 2, 2, 1}, out.Shape())
			assert.Equal(t, []float32{6, 8, 14, 16}, out.AsFloat32())

			// Odd extent with SAME: the last window covers one row only.
			in3 := mustFloat32(t, []float32{-1, -2, -3, -4, -5, -6, -7, -8, -9}, tensor.Shape{1, 3, 3, 1})
			out, err = cpu.MaxPool(in3, 2, 2, 2, 2, PaddingSame)
			require.NoError(t, err)
			assert.Equal(t, []float32{-1, -3, -7, -9}, out.AsFloat32())
		})
	}
}

func TestReverse(t *testing.T) {
	cpu := New()
	x := mustFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 2, 3})
	out, err := cpu.Reverse(x, []int{-1})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 2, 1, 6, 5, 4}, out.AsFloat32())

	out, err = cpu.Reverse(x, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 5, 4, 3, 2, 1}, out.AsFloat32())

	_, err = cpu.Reverse(x, []int{3})
	assert.Error(t, err)
}
