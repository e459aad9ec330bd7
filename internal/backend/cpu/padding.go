package cpu

import "fmt"

// Padding schemes accepted by Conv2D and MaxPool.
const (
	PaddingSame  = "SAME"
	PaddingValid = "VALID"
)

// outputSize computes one spatial output extent and the padding applied
// before the first element, with TensorFlow's rules:
//
//	VALID: out = ceil((in - k + 1) / stride), no padding
//	SAME:  out = ceil(in / stride), total padding split with the extra
//	       element after
func outputSize(in, k, stride int, padding string) (out, before int, err error) {
	if k <= 0 || stride <= 0 {
		return 0, 0, fmt.Errorf("window %d and stride %d must be positive", k, stride)
	}
	switch padding {
	case PaddingValid:
		if in < k {
			return 0, 0, fmt.Errorf("window %d larger than input %d with VALID padding", k, in)
		}
		return (in-k)/stride + 1, 0, nil
	case PaddingSame:
		out = (in + stride - 1) / stride
		total := max((out-1)*stride+k-in, 0)
		return out, total / 2, nil
	default:
		return 0, 0, fmt.Errorf("unknown padding %q", padding)
	}
}
