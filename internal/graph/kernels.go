package graph

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/backend/cpu"
	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

func one(t *tensor.Tensor, err error) ([]*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

func (r *Registry) registerStateOps() {
	r.Register(OpDef{Type: "Placeholder", NumInputs: 0, NumOutputs: 1, Kernel: placeholderKernel})
	r.Register(OpDef{Type: "Const", NumInputs: 0, NumOutputs: 1, Kernel: constKernel})
	r.Register(OpDef{Type: "VariableV2", NumInputs: 0, NumOutputs: 1, Kernel: variableKernel})
	r.Register(OpDef{Type: "Variable", NumInputs: 0, NumOutputs: 1, Kernel: variableKernel})
	r.Register(OpDef{Type: "Assign", NumInputs: 2, NumOutputs: 1, RefInput: true, Kernel: assignKernel})

	// Resource variables: the handle evaluates to the variable's value.
	r.Register(OpDef{Type: "VarHandleOp", NumInputs: 0, NumOutputs: 1, Kernel: variableKernel})
	r.Register(OpDef{Type: "ReadVariableOp", NumInputs: 1, NumOutputs: 1, Kernel: identityKernel})
	r.Register(OpDef{Type: "AssignVariableOp", NumInputs: 2, NumOutputs: 0, RefInput: true,
		Kernel: func(ctx *Context, n *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			_, err := assignKernel(ctx, n, in)
			return nil, err
		}})
	r.Register(OpDef{Type: "Identity", NumInputs: 1, NumOutputs: 1, Kernel: identityKernel})
	r.Register(OpDef{Type: "NoOp", NumInputs: 0, NumOutputs: 0, Kernel: noOpKernel})
}

func (r *Registry) registerMathOps() {
	binary := func(opType string, f func(b *cpu.CPUBackend, x, y *tensor.Tensor) (*tensor.Tensor, error)) {
		r.Register(OpDef{Type: opType, NumInputs: 2, NumOutputs: 1,
			Kernel: func(ctx *Context, _ *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
				return one(f(ctx.Backend, in[0], in[1]))
			}})
	}
	binary("Add", (*cpu.CPUBackend).Add)
	binary("AddV2", (*cpu.CPUBackend).Add)
	binary("Sub", (*cpu.CPUBackend).Sub)
	binary("Mul", (*cpu.CPUBackend).Mul)

	r.Register(OpDef{Type: "MatMul", NumInputs: 2, NumOutputs: 1, Kernel: matMulKernel})
}

func (r *Registry) registerNNOps() {
	unary := func(opType string, f func(b *cpu.CPUBackend, x *tensor.Tensor) (*tensor.Tensor, error)) {
		r.Register(OpDef{Type: opType, NumInputs: 1, NumOutputs: 1,
			Kernel: func(ctx *Context, _ *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
				return one(f(ctx.Backend, in[0]))
			}})
	}
	unary("Relu", (*cpu.CPUBackend).ReLU)
	unary("Sigmoid", (*cpu.CPUBackend).Sigmoid)
	unary("Tanh", (*cpu.CPUBackend).Tanh)
	unary("Softmax", (*cpu.CPUBackend).Softmax)

	r.Register(OpDef{Type: "BiasAdd", NumInputs: 2, NumOutputs: 1, Kernel: biasAddKernel})
	r.Register(OpDef{Type: "Conv2D", NumInputs: 2, NumOutputs: 1, Kernel: conv2DKernel})
	r.Register(OpDef{Type: "MaxPool", NumInputs: 1, NumOutputs: 1, Kernel: maxPoolKernel})
}

func (r *Registry) registerArrayOps() {
	r.Register(OpDef{Type: "Reshape", NumInputs: 2, NumOutputs: 1, Kernel: reshapeKernel})
	r.Register(OpDef{Type: "ReverseV2", NumInputs: 2, NumOutputs: 1, Kernel: reverseKernel})
}

func placeholderKernel(_ *Context, n *Node, _ []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, fmt.Errorf("%w: you must feed a value for placeholder tensor %q", ErrMissingFeed, n.Name())
}

func constKernel(_ *Context, n *Node, _ []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return one(n.constValue())
}

func variableKernel(ctx *Context, n *Node, _ []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return one(ctx.Variable(n.Name()))
}

func assignKernel(ctx *Context, n *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	target := n.inputs[0].Node
	if !isVariable(target) {
		return nil, fmt.Errorf("assign target %s is a %s, not a variable", target.Name(), target.Type())
	}
	value := in[1]
	if err := checkAssignable(target, value, attrBool(n, "validate_shape", true)); err != nil {
		return nil, err
	}
	ctx.Assign(target.Name(), value)
	return []*tensor.Tensor{value}, nil
}

func identityKernel(_ *Context, _ *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{in[0]}, nil
}

func noOpKernel(_ *Context, _ *Node, _ []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, nil
}

func matMulKernel(ctx *Context, n *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return one(ctx.Backend.MatMul(in[0], in[1], attrBool(n, "transpose_a", false), attrBool(n, "transpose_b", false)))
}

func biasAddKernel(ctx *Context, n *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := requireNHWC(n); err != nil {
		return nil, err
	}
	return one(ctx.Backend.BiasAdd(in[0], in[1]))
}

func conv2DKernel(ctx *Context, n *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := requireNHWC(n); err != nil {
		return nil, err
	}
	for _, d := range attrInts(n, "dilations") {
		if d != 1 {
			return nil, fmt.Errorf("conv2d: dilations %v are not supported", attrInts(n, "dilations"))
		}
	}
	sh, sw, err := spatial(n, "strides")
	if err != nil {
		return nil, err
	}
	return one(ctx.Backend.Conv2D(in[0], in[1], sh, sw, attrString(n, "padding", cpu.PaddingValid)))
}

func maxPoolKernel(ctx *Context, n *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := requireNHWC(n); err != nil {
		return nil, err
	}
	kh, kw, err := spatial(n, "ksize")
	if err != nil {
		return nil, err
	}
	sh, sw, err := spatial(n, "strides")
	if err != nil {
		return nil, err
	}
	return one(ctx.Backend.MaxPool(in[0], kh, kw, sh, sw, attrString(n, "padding", cpu.PaddingValid)))
}

func reshapeKernel(_ *Context, _ *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	dims, err := in[1].Ints()
	if err != nil {
		return nil, fmt.Errorf("reshape: shape operand: %w", err)
	}
	return one(in[0].Reshape(tensor.Shape(dims)))
}

func reverseKernel(ctx *Context, _ *Node, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	axes, err := in[1].Ints()
	if err != nil {
		return nil, fmt.Errorf("reverse: axis operand: %w", err)
	}
	return one(ctx.Backend.Reverse(in[0], axes))
}

func isVariable(n *Node) bool {
	return graphdef.IsVariableOp(n.Type())
}

// checkAssignable verifies value against a variable's declared dtype and shape.
func checkAssignable(variable *Node, value *tensor.Tensor, validateShape bool) error {
	if a, ok := variable.Attr("dtype"); ok {
		want, err := graphdef.TensorType(a.GetType())
		if err != nil {
			return fmt.Errorf("variable %s: %w", variable.Name(), err)
		}
		if value.DType() != want {
			return fmt.Errorf("variable %s holds %s, cannot assign %s", variable.Name(), want, value.DType())
		}
	}
	if !validateShape {
		return nil
	}
	if a, ok := variable.Attr("shape"); ok && a.GetShape() != nil && !a.GetShape().GetUnknownRank() {
		if want := tensor.Shape(graphdef.Dims(a.GetShape())); !want.Compatible(value.Shape()) {
			return fmt.Errorf("variable %s has shape %v, cannot assign %v", variable.Name(), want, value.Shape())
		}
	}
	return nil
}

func requireNHWC(n *Node) error {
	if f := attrString(n, "data_format", "NHWC"); f != "NHWC" {
		return fmt.Errorf("%s: data_format %s is not supported", n.Type(), f)
	}
	return nil
}

// spatial extracts the H and W entries of a 4-element NHWC attribute,
// requiring the batch and channel entries to be 1.
func spatial(n *Node, name string) (h, w int, err error) {
	v := attrInts(n, name)
	if len(v) != 4 || v[0] != 1 || v[3] != 1 {
		return 0, 0, fmt.Errorf("%s: %s must be [1, h, w, 1], got %v", n.Type(), name, v)
	}
	return int(v[1]), int(v[2]), nil
}

func attrBool(n *Node, name string, def bool) bool {
	if a, ok := n.Attr(name); ok && graphdef.KindOf(a) == graphdef.AttrKindBool {
		return a.GetB()
	}
	return def
}

func attrString(n *Node, name, def string) string {
	if a, ok := n.Attr(name); ok && graphdef.KindOf(a) == graphdef.AttrKindString {
		return string(a.GetS())
	}
	return def
}

func attrInts(n *Node, name string) []int64 {
	if a, ok := n.Attr(name); ok && a.GetList() != nil {
		return a.GetList().GetI()
	}
	return nil
}
