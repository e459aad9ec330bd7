package graph

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/graphdef"
)

// Scope tracks the name prefix and the first error while building a graph.
//
// Builders never return errors. Once one fails, the error is recorded on the
// scope and every later builder on the same graph becomes a no-op; check
// Err() once building is done.
type Scope struct {
	graph     *Graph
	namespace string
	opName    string
	err       *scopeErr
}

type scopeErr struct {
	err error
}

// NewScope creates a root scope that adds nodes to g.
func NewScope(g *Graph) *Scope {
	return &Scope{graph: g, err: &scopeErr{}}
}

// Graph returns the graph the scope builds into.
func (s *Scope) Graph() *Graph { return s.graph }

// Err returns the first error encountered while building, if any.
func (s *Scope) Err() error { return s.err.err }

// UpdateErr records err unless an earlier error is already recorded.
func (s *Scope) UpdateErr(op string, err error) {
	if s.err.err == nil {
		s.err.err = fmt.Errorf("failed to add %s: %w", op, err)
	}
}

// SubScope returns a scope whose nodes are prefixed with namespace.
// Reusing a namespace yields namespace_1, namespace_2, ...
func (s *Scope) SubScope(namespace string) *Scope {
	ns := s.graph.uniqueName(s.prefixed(namespace))
	return &Scope{graph: s.graph, namespace: ns, err: s.err}
}

// WithOpName returns a scope whose next node is named name (inside the
// current namespace) instead of after its op type.
func (s *Scope) WithOpName(name string) *Scope {
	return &Scope{graph: s.graph, namespace: s.namespace, opName: name, err: s.err}
}

func (s *Scope) prefixed(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + "/" + name
}

// nodeName picks the unique name of the next node of type opType.
func (s *Scope) nodeName(opType string) string {
	name := opType
	if s.opName != "" {
		name = s.opName
	}
	return s.graph.uniqueName(s.prefixed(name))
}

// opSpec is what a builder needs to add one node.
type opSpec struct {
	Type    string
	Name    string // defaults to a unique name derived from the scope
	Inputs  []Output
	Control []*Node
	Attrs   map[string]*graphdef.AttrValue
}

// addOp adds a node, recording any failure on the scope.
// It returns nil once the scope holds an error.
func (s *Scope) addOp(spec opSpec) *Node {
	if s.Err() != nil {
		return nil
	}
	name := spec.Name
	if name == "" {
		name = s.nodeName(spec.Type)
	}
	def := &graphdef.NodeDef{Name: name, Op: spec.Type, Attr: spec.Attrs}
	for _, in := range spec.Inputs {
		if in.Node == nil {
			s.UpdateErr(spec.Type, fmt.Errorf("%w: nil input to %s", ErrInvalidInput, name))
			return nil
		}
		def.Input = append(def.Input, in.inputName())
	}
	for _, c := range spec.Control {
		def.Input = append(def.Input, graphdef.ControlInput(c.Name()))
	}
	n, err := s.graph.AddNode(def)
	if err != nil {
		s.UpdateErr(spec.Type, err)
		return nil
	}
	return n
}

// output returns n's first output, or a zero Output when n is nil.
func output(n *Node) Output {
	if n == nil {
		return Output{}
	}
	return n.Output(0)
}
