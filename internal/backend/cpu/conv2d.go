package cpu

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/parallel"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

// Conv2D performs a 2D convolution.
//
// Input shape:  [batch, height, width, in_channels]
// Filter shape: [filter_h, filter_w, in_channels, out_channels]
// Output shape: [batch, out_h, out_w, out_channels]
//
// Each (batch, output row) pair is computed independently, so rows are
// spread across workers.
func (cpu *CPUBackend) Conv2D(input, filter *tensor.Tensor, strideH, strideW int, padding string) (*tensor.Tensor, error) {
	if err := requireFloat32("conv2d", input, filter); err != nil {
		return nil, err
	}
	is, fs := input.Shape(), filter.Shape()
	if len(is) != 4 {
		return nil, fmt.Errorf("conv2d: input must be 4D [N,H,W,C], got %v", is)
	}
	if len(fs) != 4 {
		return nil, fmt.Errorf("conv2d: filter must be 4D [KH,KW,C_in,C_out], got %v", fs)
	}

	N, H, W, CIn := is[0], is[1], is[2], is[3]
	KH, KW, CInF, COut := fs[0], fs[1], fs[2], fs[3]
	if CIn != CInF {
		return nil, fmt.Errorf("conv2d: input channels %d != filter channels %d", CIn, CInF)
	}

	HOut, padTop, err := outputSize(H, KH, strideH, padding)
	if err != nil {
		return nil, fmt.Errorf("conv2d: height: %w", err)
	}
	WOut, padLeft, err := outputSize(W, KW, strideW, padding)
	if err != nil {
		return nil, fmt.Errorf("conv2d: width: %w", err)
	}

	out, err := tensor.New(tensor.Float32, tensor.Shape{N, HOut, WOut, COut})
	if err != nil {
		return nil, fmt.Errorf("conv2d: %w", err)
	}

	in, flt, dst := input.AsFloat32(), filter.AsFloat32(), out.AsFloat32()

	parallel.ForGrid(N, HOut, func(n, oh int) {
		for ow := 0; ow < WOut; ow++ {
			o := dst[((n*HOut+oh)*WOut+ow)*COut : ((n*HOut+oh)*WOut+ow+1)*COut]
			for kh := 0; kh < KH; kh++ {
				ih := oh*strideH + kh - padTop
				if ih < 0 || ih >= H {
					continue
				}
				for kw := 0; kw < KW; kw++ {
					iw := ow*strideW + kw - padLeft
					if iw < 0 || iw >= W {
						continue
					}
					px := in[((n*H+ih)*W+iw)*CIn : ((n*H+ih)*W+iw+1)*CIn]
					fBase := (kh*KW + kw) * CIn * COut
					for ci, v := range px {
						fRow := flt[fBase+ci*COut : fBase+(ci+1)*COut]
						for co := range o {
							o[co] += v * fRow[co]
						}
					}
				}
			}
		}
	}, cpu.cfg)

	return out, nil
}
