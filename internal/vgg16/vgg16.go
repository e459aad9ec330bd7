// Package vgg16 builds the VGG16 image classifier as a graph whose weights
// are variables, ready to be frozen.
//
// Layer names follow the widely used TensorFlow port of the network:
// conv1_1 ... conv5_3, pool1 ... pool5, fc6, fc7, fc8 and the "prob"
// softmax output. Parameters are looked up as "<layer>/weights" and
// "<layer>/biases"; layer widths come from the parameters, so reduced
// networks build the same way as the full one.
package vgg16

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/graphfreeze/internal/graph"
	"github.com/born-ml/graphfreeze/internal/params"
	"github.com/born-ml/graphfreeze/internal/tensor"
)

// Names of the graph's input and output nodes.
const (
	InputName  = "rgb_images"
	OutputName = "prob"
)

// ImageSize is the input height and width.
const ImageSize = 224

// Mean is the per-channel mean subtracted from BGR inputs scaled to [0, 255].
var Mean = [3]float32{103.939, 116.779, 123.68}

// Blocks lists the convolution layers; every block ends in a 2x2 max pool.
var Blocks = [][]string{
	{"conv1_1", "conv1_2"},
	{"conv2_1", "conv2_2"},
	{"conv3_1", "conv3_2", "conv3_3"},
	{"conv4_1", "conv4_2", "conv4_3"},
	{"conv5_1", "conv5_2", "conv5_3"},
}

// FullyConnected lists the dense layers after the last pool.
var FullyConnected = []string{"fc6", "fc7", "fc8"}

// Model holds the interesting tensors of a built network.
type Model struct {
	Input  graph.Output
	BGR    graph.Output // mean-subtracted BGR input
	Pool5  graph.Output
	Logits graph.Output // fc8
	Prob   graph.Output
}

// InputShape is the shape of the rgb_images placeholder.
func InputShape() tensor.Shape {
	return tensor.Shape{-1, ImageSize, ImageSize, 3}
}

// Build adds VGG16 on top of rgb, a float32 NHWC batch of RGB images with
// values in [0, 1].
func Build(s *graph.Scope, rgb graph.Output, p params.Set) (*Model, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	m := &Model{Input: rgb}

	scaled := graph.Mul(s, rgb, graph.Const(s, tensor.Scalar(255)))
	bgr := graph.ReverseV2(s, scaled, graph.Const(s, tensor.Vector(3)))
	mean, err := tensor.FromFloat32(Mean[:], tensor.Shape{3})
	if err != nil {
		return nil, err
	}
	m.BGR = graph.Sub(s.WithOpName("bgr"), bgr, graph.Const(s, mean))

	x := m.BGR
	for i, block := range Blocks {
		for _, name := range block {
			x = convLayer(s, name, x, p)
		}
		x = graph.MaxPool(s.WithOpName(fmt.Sprintf("pool%d", i+1)), x,
			[]int64{1, 2, 2, 1}, []int64{1, 2, 2, 1}, "SAME")
	}
	m.Pool5 = x

	for i, name := range FullyConnected {
		x = fcLayer(s, name, x, p)
		if i < len(FullyConnected)-1 {
			x = graph.Relu(s.WithOpName(fmt.Sprintf("relu%d", 6+i)), x)
		}
	}
	m.Logits = x
	m.Prob = graph.Softmax(s.WithOpName(OutputName), x)

	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to build vgg16: %w", err)
	}
	return m, nil
}

// BuildGraph creates a graph with the rgb_images placeholder and VGG16 on top.
func BuildGraph(p params.Set) (*graph.Graph, *Model, error) {
	g := graph.New()
	s := graph.NewScope(g)
	rgb := graph.Placeholder(s.WithOpName(InputName), tensor.Float32, InputShape())
	m, err := Build(s, rgb, p)
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

func convLayer(s *graph.Scope, name string, x graph.Output, p params.Set) graph.Output {
	sub := s.SubScope(name)
	filt := graph.Variable(sub.WithOpName("weights"), p[name+"/weights"])
	conv := graph.Conv2D(sub, x, filt, []int64{1, 1, 1, 1}, "SAME")
	bias := graph.Variable(sub.WithOpName("biases"), p[name+"/biases"])
	return graph.Relu(sub, graph.BiasAdd(sub, conv, bias))
}

func fcLayer(s *graph.Scope, name string, x graph.Output, p params.Set) graph.Output {
	sub := s.SubScope(name)
	w := p[name+"/weights"]
	flat := graph.Reshape(sub, x, graph.Const(sub, tensor.Vector(-1, int32(w.Shape()[0])))) //nolint:gosec // G115: layer widths are small
	weights := graph.Variable(sub.WithOpName("weights"), w)
	bias := graph.Variable(sub.WithOpName("biases"), p[name+"/biases"])
	return graph.BiasAdd(sub, graph.MatMul(sub, flat, weights, false, false), bias)
}

// Validate checks that p holds every layer with consistent shapes.
func Validate(p params.Set) error {
	in := 3
	for _, block := range Blocks {
		for _, name := range block {
			w, b, err := layer(p, name)
			if err != nil {
				return err
			}
			ws := w.Shape()
			if len(ws) != 4 || ws[2] != in {
				return fmt.Errorf("%s/weights: want [h, w, %d, out], got %v", name, in, ws)
			}
			if !b.Shape().Equal(tensor.Shape{ws[3]}) {
				return fmt.Errorf("%s/biases: want [%d], got %v", name, ws[3], b.Shape())
			}
			in = ws[3]
		}
	}
	side := ImageSize
	for range Blocks {
		side = (side + 1) / 2
	}
	in *= side * side
	for _, name := range FullyConnected {
		w, b, err := layer(p, name)
		if err != nil {
			return err
		}
		ws := w.Shape()
		if len(ws) != 2 || ws[0] != in {
			return fmt.Errorf("%s/weights: want [%d, out], got %v", name, in, ws)
		}
		if !b.Shape().Equal(tensor.Shape{ws[1]}) {
			return fmt.Errorf("%s/biases: want [%d], got %v", name, ws[1], b.Shape())
		}
		in = ws[1]
	}
	return nil
}

func layer(p params.Set, name string) (w, b *tensor.Tensor, err error) {
	if w, err = p.Get(name + "/weights"); err != nil {
		return nil, nil, err
	}
	if b, err = p.Get(name + "/biases"); err != nil {
		return nil, nil, err
	}
	if w.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		return nil, nil, fmt.Errorf("%s: parameters must be float32", name)
	}
	return w, b, nil
}

// SyntheticParams returns randomly initialized parameters for a reduced
// VGG16 whose conv layers all have the given width. The full network uses
// widths 64 to 512 and 4096 hidden units.
func SyntheticParams(width, hidden, classes int, seed int64) params.Set {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // G404: weights, not secrets
	randn := func(shape tensor.Shape, scale float64) *tensor.Tensor {
		t, _ := tensor.New(tensor.Float32, shape) //nolint:errcheck // shapes are static
		v := t.AsFloat32()
		for i := range v {
			v[i] = float32(rng.NormFloat64() * scale)
		}
		return t
	}
	zeros := func(n int) *tensor.Tensor {
		t, _ := tensor.New(tensor.Float32, tensor.Shape{n}) //nolint:errcheck // shapes are static
		return t
	}

	p := params.Set{}
	in := 3
	for _, block := range Blocks {
		for _, name := range block {
			p[name+"/weights"] = randn(tensor.Shape{3, 3, in, width}, 0.1)
			p[name+"/biases"] = zeros(width)
			in = width
		}
	}
	side := ImageSize
	for range Blocks {
		side = (side + 1) / 2
	}
	in *= side * side
	for i, name := range FullyConnected {
		out := hidden
		if i == len(FullyConnected)-1 {
			out = classes
		}
		p[name+"/weights"] = randn(tensor.Shape{in, out}, 0.01)
		p[name+"/biases"] = zeros(out)
		in = out
	}
	return p
}
