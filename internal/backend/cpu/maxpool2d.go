package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/graphfreeze/internal/parallel"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

// MaxPool performs 2D max pooling over NHWC input.
//
// Padded positions never win: with SAME padding a window that hangs over the
// edge takes the maximum of the elements it does cover.
//
// Example (2x2 window, stride 2, one channel):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool(input *tensor.Tensor, kh, kw, strideH, strideW int, padding string) (*tensor.Tensor, error) {
	if err := requireFloat32("maxpool", input); err != nil {
		return nil, err
	}
	is := input.Shape()
	if len(is) != 4 {
		return nil, fmt.Errorf("maxpool: input must be 4D [N,H,W,C], got %v", is)
	}
	N, H, W, C := is[0], is[1], is[2], is[3]

	HOut, padTop, err := outputSize(H, kh, strideH, padding)
	if err != nil {
		return nil, fmt.Errorf("maxpool: height: %w", err)
	}
	WOut, padLeft, err := outputSize(W, kw, strideW, padding)
	if err != nil {
		return nil, fmt.Errorf("maxpool: width: %w", err)
	}

	out, err := tensor.New(tensor.Float32, tensor.Shape{N, HOut, WOut, C})
	if err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	in, dst := input.AsFloat32(), out.AsFloat32()

	parallel.ForGrid(N, HOut, func(n, oh int) {
		for ow := 0; ow < WOut; ow++ {
			o := dst[((n*HOut+oh)*WOut+ow)*C : ((n*HOut+oh)*WOut+ow+1)*C]
			for c := range o {
				o[c] = float32(math.Inf(-1))
			}
			for i := 0; i < kh; i++ {
				ih := oh*strideH + i - padTop
				if ih < 0 || ih >= H {
					continue
				}
				for j := 0; j < kw; j++ {
					iw := ow*strideW + j - padLeft
					if iw < 0 || iw >= W {
						continue
					}
					px := in[((n*H+ih)*W+iw)*C : ((n*H+ih)*W+iw+1)*C]
					for c, v := range px {
						if v > o[c] {
							o[c] = v
						}
					}
				}
			}
		}
	}, cpu.cfg)

	return out, nil
}
