package graph

import (
	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

// Placeholder adds a value that must be fed when the graph runs.
// A nil shape leaves the rank unknown; -1 marks an unknown dimension.
func Placeholder(s *Scope, dtype tensor.DataType, shape tensor.Shape) Output {
	dt, err := graphdef.FromTensorDType(dtype)
	if err != nil {
		s.UpdateErr("Placeholder", err)
		return Output{}
	}
	sp := &graphdef.TensorShapeProto{UnknownRank: true}
	if shape != nil {
		sp = graphdef.ShapeProto(shape...)
	}
	return output(s.addOp(opSpec{
		Type:  "Placeholder",
		Attrs: map[string]*graphdef.AttrValue{"dtype": graphdef.AttrType(dt), "shape": graphdef.AttrShape(sp)},
	}))
}

// Const adds a constant holding value.
func Const(s *Scope, value *tensor.Tensor) Output {
	return output(s.addConst("", value))
}

func (s *Scope) addConst(name string, value *tensor.Tensor) *Node {
	if s.Err() != nil {
		return nil
	}
	p, err := graphdef.TensorProtoFromTensor(value)
	if err != nil {
		s.UpdateErr("Const", err)
		return nil
	}
	return s.addOp(opSpec{
		Type: "Const",
		Name: name,
		Attrs: map[string]*graphdef.AttrValue{
			"dtype": graphdef.AttrType(p.Dtype),
			"value": graphdef.AttrTensor(p),
		},
	})
}

// Variable adds a variable initialized to initial and returns its read
// tensor. The layout matches TensorFlow's: for a variable "w" the graph gains
// "w" (VariableV2), "w/initial_value" (Const), "w/Assign" and "w/read"
// (Identity). The variable joins the graph's global variables.
func Variable(s *Scope, initial *tensor.Tensor) Output {
	if s.Err() != nil {
		return Output{}
	}
	dt, err := graphdef.FromTensorDType(initial.DType())
	if err != nil {
		s.UpdateErr("VariableV2", err)
		return Output{}
	}
	name := s.nodeName("Variable")
	v := s.addOp(opSpec{
		Type: "VariableV2",
		Name: name,
		Attrs: map[string]*graphdef.AttrValue{
			"dtype":       graphdef.AttrType(dt),
			"shape":       graphdef.AttrShape(graphdef.ShapeProto(initial.Shape()...)),
			"container":   graphdef.AttrString(""),
			"shared_name": graphdef.AttrString(""),
		},
	})
	iv := s.addConst(s.graph.uniqueName(name+"/initial_value"), initial)
	assign := s.addOp(opSpec{
		Type:   "Assign",
		Name:   s.graph.uniqueName(name + "/Assign"),
		Inputs: []Output{output(v), output(iv)},
		Attrs: map[string]*graphdef.AttrValue{
			"T":              graphdef.AttrType(dt),
			"use_locking":    graphdef.AttrBool(true),
			"validate_shape": graphdef.AttrBool(true),
		},
	})
	read := s.addOp(opSpec{
		Type:   "Identity",
		Name:   s.graph.uniqueName(name + "/read"),
		Inputs: []Output{output(v)},
		Attrs:  map[string]*graphdef.AttrValue{"T": graphdef.AttrType(dt)},
	})
	if read != nil {
		s.graph.addVariable(v, assign)
	}
	return output(read)
}

func (g *Graph) addVariable(node, assign *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.variables = append(g.variables, variable{node: node, assign: assign})
}

// unary adds a one-input op whose "T" follows its input.
func unary(s *Scope, opType string, x Output) Output {
	return output(s.addOp(opSpec{
		Type:   opType,
		Inputs: []Output{x},
		Attrs:  map[string]*graphdef.AttrValue{"T": graphdef.AttrType(x.DataType())},
	}))
}

func binary(s *Scope, opType string, x, y Output) Output {
	return output(s.addOp(opSpec{
		Type:   opType,
		Inputs: []Output{x, y},
		Attrs:  map[string]*graphdef.AttrValue{"T": graphdef.AttrType(x.DataType())},
	}))
}

// Identity returns x unchanged.
func Identity(s *Scope, x Output) Output { return unary(s, "Identity", x) }

// Relu computes max(x, 0).
func Relu(s *Scope, x Output) Output { return unary(s, "Relu", x) }

// Sigmoid computes 1 / (1 + exp(-x)).
func Sigmoid(s *Scope, x Output) Output { return unary(s, "Sigmoid", x) }

// Tanh computes the hyperbolic tangent.
func Tanh(s *Scope, x Output) Output { return unary(s, "Tanh", x) }

// Softmax normalizes the last axis.
func Softmax(s *Scope, logits Output) Output { return unary(s, "Softmax", logits) }

// Add computes x + y with broadcasting.
func Add(s *Scope, x, y Output) Output { return binary(s, "Add", x, y) }

// Sub computes x - y with broadcasting.
func Sub(s *Scope, x, y Output) Output { return binary(s, "Sub", x, y) }

// Mul computes x * y with broadcasting.
func Mul(s *Scope, x, y Output) Output { return binary(s, "Mul", x, y) }

// MatMul multiplies two matrices, optionally transposing either.
func MatMul(s *Scope, a, b Output, transposeA, transposeB bool) Output {
	return output(s.addOp(opSpec{
		Type:   "MatMul",
		Inputs: []Output{a, b},
		Attrs: map[string]*graphdef.AttrValue{
			"T":           graphdef.AttrType(a.DataType()),
			"transpose_a": graphdef.AttrBool(transposeA),
			"transpose_b": graphdef.AttrBool(transposeB),
		},
	}))
}

// BiasAdd adds a rank-1 bias along the last axis of value.
func BiasAdd(s *Scope, value, bias Output) Output {
	return output(s.addOp(opSpec{
		Type:   "BiasAdd",
		Inputs: []Output{value, bias},
		Attrs: map[string]*graphdef.AttrValue{
			"T":           graphdef.AttrType(value.DataType()),
			"data_format": graphdef.AttrString("NHWC"),
		},
	}))
}

// Conv2D convolves an NHWC input with an HWIO filter.
// strides has the form [1, h, w, 1]; padding is "SAME" or "VALID".
func Conv2D(s *Scope, input, filter Output, strides []int64, padding string) Output {
	return output(s.addOp(opSpec{
		Type:   "Conv2D",
		Inputs: []Output{input, filter},
		Attrs: map[string]*graphdef.AttrValue{
			"T":                graphdef.AttrType(input.DataType()),
			"strides":          graphdef.AttrInts(strides...),
			"padding":          graphdef.AttrString(padding),
			"data_format":      graphdef.AttrString("NHWC"),
			"dilations":        graphdef.AttrInts(1, 1, 1, 1),
			"use_cudnn_on_gpu": graphdef.AttrBool(true),
		},
	}))
}

// MaxPool max-pools an NHWC input. ksize and strides have the form [1, h, w, 1].
func MaxPool(s *Scope, value Output, ksize, strides []int64, padding string) Output {
	return output(s.addOp(opSpec{
		Type:   "MaxPool",
		Inputs: []Output{value},
		Attrs: map[string]*graphdef.AttrValue{
			"T":           graphdef.AttrType(value.DataType()),
			"ksize":       graphdef.AttrInts(ksize...),
			"strides":     graphdef.AttrInts(strides...),
			"padding":     graphdef.AttrString(padding),
			"data_format": graphdef.AttrString("NHWC"),
		},
	}))
}

// Reshape gives x the shape held by the integer tensor shape.
func Reshape(s *Scope, x, shape Output) Output {
	return output(s.addOp(opSpec{
		Type:   "Reshape",
		Inputs: []Output{x, shape},
		Attrs: map[string]*graphdef.AttrValue{
			"T":      graphdef.AttrType(x.DataType()),
			"Tshape": graphdef.AttrType(shape.DataType()),
		},
	}))
}

// ReverseV2 reverses x along the axes held by the integer tensor axis.
func ReverseV2(s *Scope, x, axis Output) Output {
	return output(s.addOp(opSpec{
		Type:   "ReverseV2",
		Inputs: []Output{x, axis},
		Attrs: map[string]*graphdef.AttrValue{
			"T":    graphdef.AttrType(x.DataType()),
			"Tidx": graphdef.AttrType(axis.DataType()),
		},
	}))
}

// NoOp adds a node that does nothing once its control inputs have run.
func NoOp(s *Scope, control ...*Node) *Node {
	return s.addOp(opSpec{Type: "NoOp", Control: control})
}
