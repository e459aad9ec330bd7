package cpu

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/parallel"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

// MatMul multiplies two rank-2 matrices, optionally transposing either side.
//
//	a: [M, K] (or [K, M] with transA)
//	b: [K, N] (or [N, K] with transB)
//	out: [M, N]
func (cpu *CPUBackend) MatMul(a, b *tensor.Tensor, transA, transB bool) (*tensor.Tensor, error) {
	if err := requireFloat32("matmul", a, b); err != nil {
		return nil, err
	}
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, fmt.Errorf("matmul: operands must be rank 2, got %v and %v", as, bs)
	}

	M, K := as[0], as[1]
	if transA {
		M, K = K, M
	}
	KB, N := bs[0], bs[1]
	if transB {
		KB, N = N, KB
	}
	if K != KB {
		return nil, fmt.Errorf("matmul: inner dimensions differ: %v x %v (transA=%t transB=%t)", as, bs, transA, transB)
	}

	out, err := tensor.New(tensor.Float32, tensor.Shape{M, N})
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	av, bv, dst := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()

	// Row-parallel i-k-j loop keeps the inner loop contiguous in b and out.
	parallel.For(M, func(i int) {
		row := dst[i*N : (i+1)*N]
		for k := 0; k < K; k++ {
			var aik float32
			if transA {
				aik = av[k*M+i]
			} else {
				aik = av[i*K+k]
			}
			if transB {
				for j := 0; j < N; j++ {
					row[j] += aik * bv[j*K+k]
				}
			} else {
				bRow := bv[k*N : (k+1)*N]
				for j := range row {
					row[j] += aik * bRow[j]
				}
			}
		}
	}, cpu.cfg)

	return out, nil
}
