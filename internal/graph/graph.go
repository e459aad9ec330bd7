package graph

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/tensor"
	sync "github.com/sasha-s/go-deadlock"
)

// Common errors.
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateNode = errors.New("duplicate node name")
	ErrUnknownOp     = errors.New("unknown op type")
	ErrInvalidInput  = errors.New("invalid node input")
	ErrUninitialized = errors.New("attempting to use uninitialized value")
	ErrMissingFeed   = errors.New("missing feed value")
)

// Graph is an in-memory computation graph.
//
// Nodes are kept in insertion order, and every node's inputs must already be
// in the graph when it is added, so insertion order is a topological order.
type Graph struct {
	mu        sync.RWMutex // deadlock-detecting; graphs are shared across server requests
	nodes     []*Node
	byName    map[string]*Node
	used      map[string]int // reserved names and their last suffix
	variables []variable
}

// variable pairs a VariableV2 node with the Assign that initializes it.
type variable struct {
	node   *Node
	assign *Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]*Node),
		used:   make(map[string]int),
	}
}

// Node is a single operation in a graph.
type Node struct {
	def     *graphdef.NodeDef
	inputs  []Output
	control []*Node
	op      OpDef

	mu    sync.Mutex // guards value
	value *tensor.Tensor
}

// Output is one output tensor of a node.
type Output struct {
	Node  *Node
	Index int
}

// Name returns the tensor name, e.g. "conv1_1/Relu:0".
func (o Output) Name() string {
	if o.Node == nil {
		return ""
	}
	return o.Node.Name() + ":" + strconv.Itoa(o.Index)
}

// DataType returns the dtype attribute recorded for the output's node.
// Ops carry it as "dtype" (sources) or "T" (everything else).
func (o Output) DataType() graphdef.DataType {
	if o.Node == nil {
		return graphdef.DTInvalid
	}
	for _, key := range []string{"dtype", "T"} {
		if a, ok := o.Node.def.Attr[key]; ok && graphdef.KindOf(a) == graphdef.AttrKindType {
			return a.GetType()
		}
	}
	return graphdef.DTInvalid
}

func (o Output) inputName() string {
	return graphdef.InputName(o.Node.Name(), o.Index)
}

// Name returns the node's unique name.
func (n *Node) Name() string { return n.def.Name }

// Type returns the op type, e.g. "Conv2D".
func (n *Node) Type() string { return n.def.Op }

// NumOutputs returns how many tensors the node produces.
func (n *Node) NumOutputs() int { return n.op.NumOutputs }

// Output returns the i-th output.
func (n *Node) Output(i int) Output { return Output{Node: n, Index: i} }

// Inputs returns the node's data inputs.
func (n *Node) Inputs() []Output { return n.inputs }

// ControlInputs returns the nodes this node must run after.
func (n *Node) ControlInputs() []*Node { return n.control }

// Attr returns a named attribute.
func (n *Node) Attr(name string) (*graphdef.AttrValue, bool) {
	a, ok := n.def.Attr[name]
	return a, ok
}

// Def returns a copy of the node's serialized form.
func (n *Node) Def() *graphdef.NodeDef { return graphdef.CloneNode(n.def) }

// constValue decodes the "value" attribute once.
func (n *Node) constValue() (*tensor.Tensor, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.value != nil {
		return n.value, nil
	}
	p := n.def.Attr["value"].GetTensor()
	if p == nil {
		return nil, fmt.Errorf("node %s: missing value attribute", n.Name())
	}
	v, err := graphdef.TensorFromProto(p)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Name(), err)
	}
	n.value = v
	return v, nil
}

// Node returns the node with the given name, or nil.
func (g *Graph) Node(name string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byName[name]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Node(nil), g.nodes...)
}

// Tensor resolves a tensor name such as "prob" or "split:1".
func (g *Graph) Tensor(name string) (Output, error) {
	nodeName, index, control := graphdef.ParseTensorName(name)
	if control {
		return Output{}, fmt.Errorf("%w: %q names a control dependency, not a tensor", ErrInvalidInput, name)
	}
	n := g.Node(nodeName)
	if n == nil {
		return Output{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeName)
	}
	if index >= n.NumOutputs() {
		return Output{}, fmt.Errorf("%w: %s has %d outputs, asked for %d", ErrInvalidInput, nodeName, n.NumOutputs(), index)
	}
	return n.Output(index), nil
}

// AddNode appends a node built from def.
// The op must be registered and every input must name an existing node.
func (g *Graph) AddNode(def *graphdef.NodeDef) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(graphdef.CloneNode(def))
}

func (g *Graph) addNodeLocked(def *graphdef.NodeDef) (*Node, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: node of type %s has no name", ErrInvalidInput, def.Op)
	}
	if _, exists := g.byName[def.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, def.Name)
	}
	op, ok := LookupOp(def.Op)
	if !ok {
		return nil, fmt.Errorf("%w: %s (node %s)", ErrUnknownOp, def.Op, def.Name)
	}

	n := &Node{def: def, op: op}
	for _, in := range def.Input {
		srcName, index, control := graphdef.ParseTensorName(in)
		src, ok := g.byName[srcName]
		if !ok {
			return nil, fmt.Errorf("%w: node %s input %q: %s", ErrNodeNotFound, def.Name, in, srcName)
		}
		if control {
			n.control = append(n.control, src)
			continue
		}
		if len(n.control) > 0 {
			return nil, fmt.Errorf("%w: node %s has data input %q after a control input", ErrInvalidInput, def.Name, in)
		}
		if index >= src.NumOutputs() {
			return nil, fmt.Errorf("%w: node %s input %q: %s has %d outputs",
				ErrInvalidInput, def.Name, in, srcName, src.NumOutputs())
		}
		n.inputs = append(n.inputs, src.Output(index))
	}
	if op.NumInputs >= 0 && len(n.inputs) != op.NumInputs {
		return nil, fmt.Errorf("%w: %s (%s) expects %d inputs, got %d",
			ErrInvalidInput, def.Name, def.Op, op.NumInputs, len(n.inputs))
	}

	g.nodes = append(g.nodes, n)
	g.byName[def.Name] = n
	if _, reserved := g.used[def.Name]; !reserved {
		g.used[def.Name] = 0
	}
	return n, nil
}

// uniqueName reserves name, or name_1, name_2, ... if it is taken.
func (g *Graph) uniqueName(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.uniqueNameLocked(name)
}

func (g *Graph) uniqueNameLocked(name string) string {
	candidate, suffix := g.nextNameLocked(name)
	if suffix > 0 {
		g.used[name] = suffix
	}
	g.used[candidate] = 0
	return candidate
}

// nextNameLocked returns the name uniqueNameLocked would reserve and its
// suffix, without reserving it.
func (g *Graph) nextNameLocked(name string) (string, int) {
	last, taken := g.used[name]
	if !taken {
		return name, 0
	}
	for i := last + 1; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if _, taken := g.used[candidate]; !taken {
			return candidate, i
		}
	}
}

// AsGraphDef serializes the graph structure. Variable values are not part of
// the graph; freeze a graph to inline them.
func (g *Graph) AsGraphDef() *graphdef.GraphDef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	def := &graphdef.GraphDef{
		Node:     make([]*graphdef.NodeDef, 0, len(g.nodes)),
		Versions: &graphdef.VersionDef{Producer: graphdef.ProducerVersion},
	}
	for _, n := range g.nodes {
		def.Node = append(def.Node, graphdef.CloneNode(n.def))
	}
	return def
}

// GlobalVariables returns the variables created with Variable, in creation
// order. Variables that arrive through ImportGraphDef are not collected.
func (g *Graph) GlobalVariables() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, len(g.variables))
	for i, v := range g.variables {
		out[i] = v.node
	}
	return out
}

// GlobalVariablesInitializer adds a NoOp named "init" (made unique) that
// depends on the initializer of every global variable. Running it as a
// target initializes all variables.
func (g *Graph) GlobalVariablesInitializer() (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	def := &graphdef.NodeDef{Name: g.uniqueNameLocked("init"), Op: "NoOp"}
	for _, v := range g.variables {
		def.Input = append(def.Input, graphdef.ControlInput(v.assign.Name()))
	}
	return g.addNodeLocked(def)
}
