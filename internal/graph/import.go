package graph

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/graphdef"
)

// ImportOptions control how ImportGraphDef splices a GraphDef into a graph.
type ImportOptions struct {
	// Prefix is prepended, with a "/", to every imported node name.
	// If another node or scope already uses it, Prefix_1, Prefix_2, ...
	// is used instead. Empty imports names unchanged.
	Prefix string

	// InputMap replaces inputs inside def with tensors already in the
	// graph. Keys are tensor names in def ("x" or "x:0").
	InputMap map[string]Output

	// ReturnElements names tensors ("x:0") or nodes ("x") in def whose
	// imported names are returned.
	ReturnElements []string
}

// ImportError reports the node an import failed on.
type ImportError struct {
	Node string
	Err  error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("import graph: %v", e.Err)
	}
	return fmt.Sprintf("import graph: node %s: %v", e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *ImportError) Unwrap() error {
	return e.Err
}

// ImportGraphDef adds the nodes of def to g and returns the names of
// opts.ReturnElements as they appear in g.
//
// The import is checked before anything is added, so a failed import leaves
// g unchanged. Nodes in def may appear in any order.
//
//nolint:gocognit,gocyclo,cyclop // validation pass mirrors the add pass
func (g *Graph) ImportGraphDef(def *graphdef.GraphDef, opts ImportOptions) ([]string, error) {
	byName := make(map[string]*graphdef.NodeDef, len(def.Node))
	for _, n := range def.Node {
		if _, dup := byName[n.Name]; dup {
			return nil, &ImportError{Node: n.Name, Err: ErrDuplicateNode}
		}
		if _, ok := LookupOp(n.Op); !ok {
			return nil, &ImportError{Node: n.Name, Err: fmt.Errorf("%w: %s", ErrUnknownOp, n.Op)}
		}
		byName[n.Name] = n
	}

	inputMap := make(map[string]Output, len(opts.InputMap))
	for key, o := range opts.InputMap {
		node, index, control := graphdef.ParseTensorName(key)
		if control {
			return nil, &ImportError{Err: fmt.Errorf("%w: input map key %q is a control input", ErrInvalidInput, key)}
		}
		if _, ok := byName[node]; !ok {
			return nil, &ImportError{Err: fmt.Errorf("%w: input map key %q not found in graph def", ErrNodeNotFound, key)}
		}
		if o.Node == nil || g.Node(o.Node.Name()) != o.Node {
			return nil, &ImportError{Err: fmt.Errorf("%w: input map value for %q is not in the target graph", ErrInvalidInput, key)}
		}
		inputMap[graphdef.InputName(node, index)] = o
	}

	for _, name := range opts.ReturnElements {
		node, _, control := graphdef.ParseTensorName(name)
		if _, ok := byName[node]; !ok || control {
			return nil, &ImportError{Err: fmt.Errorf("%w: return element %q not found in graph def", ErrNodeNotFound, name)}
		}
	}

	order, err := topologicalSort(def.Node, byName)
	if err != nil {
		return nil, err
	}
	for _, n := range order {
		if err := checkInputs(n, byName, inputMap); err != nil {
			return nil, &ImportError{Node: n.Name, Err: err}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prefix := ""
	if opts.Prefix != "" {
		name, _ := g.nextNameLocked(opts.Prefix)
		prefix = name + "/"
	}
	rename := func(name string) string { return prefix + name }

	for _, n := range order {
		if _, exists := g.byName[rename(n.Name)]; exists {
			return nil, &ImportError{Node: n.Name, Err: fmt.Errorf("%w: %s", ErrDuplicateNode, rename(n.Name))}
		}
	}
	if opts.Prefix != "" {
		g.uniqueNameLocked(opts.Prefix)
	}

	for _, n := range order {
		nd := graphdef.CloneNode(n)
		nd.Name = rename(n.Name)
		nd.Input = nd.Input[:0]
		for _, in := range n.Input {
			src, index, control := graphdef.ParseTensorName(in)
			switch {
			case control:
				nd.Input = append(nd.Input, graphdef.ControlInput(rename(src)))
			default:
				if o, ok := inputMap[graphdef.InputName(src, index)]; ok {
					nd.Input = append(nd.Input, o.inputName())
				} else {
					nd.Input = append(nd.Input, graphdef.InputName(rename(src), index))
				}
			}
		}
		if _, err := g.addNodeLocked(nd); err != nil {
			return nil, &ImportError{Node: n.Name, Err: err}
		}
	}

	out := make([]string, len(opts.ReturnElements))
	for i, name := range opts.ReturnElements {
		out[i] = prefix + name
	}
	return out, nil
}

// topologicalSort orders nodes so every input precedes its consumer,
// keeping the original order among independent nodes.
func topologicalSort(nodes []*graphdef.NodeDef, byName map[string]*graphdef.NodeDef) ([]*graphdef.NodeDef, error) {
	pending := make(map[string]int, len(nodes))
	consumers := make(map[string][]*graphdef.NodeDef)
	for _, n := range nodes {
		seen := make(map[string]bool)
		for _, in := range n.Input {
			src, _, _ := graphdef.ParseTensorName(in)
			if _, ok := byName[src]; !ok {
				return nil, &ImportError{Node: n.Name, Err: fmt.Errorf("%w: input %q", ErrNodeNotFound, in)}
			}
			if !seen[src] {
				seen[src] = true
				pending[n.Name]++
				consumers[src] = append(consumers[src], n)
			}
		}
	}

	order := make([]*graphdef.NodeDef, 0, len(nodes))
	var ready []*graphdef.NodeDef
	for _, n := range nodes {
		if pending[n.Name] == 0 {
			ready = append(ready, n)
		}
	}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, c := range consumers[n.Name] {
			pending[c.Name]--
			if pending[c.Name] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(order) != len(nodes) {
		return nil, &ImportError{Err: fmt.Errorf("%w: graph def contains a cycle", ErrInvalidInput)}
	}
	return order, nil
}

// checkInputs validates n's input list against the ops that produce them,
// so that adding n later cannot fail.
func checkInputs(n *graphdef.NodeDef, byName map[string]*graphdef.NodeDef, inputMap map[string]Output) error {
	op, _ := LookupOp(n.Op)
	data, sawControl := 0, false
	for _, in := range n.Input {
		src, index, control := graphdef.ParseTensorName(in)
		if control {
			sawControl = true
			continue
		}
		if sawControl {
			return fmt.Errorf("%w: data input %q after a control input", ErrInvalidInput, in)
		}
		data++
		if _, mapped := inputMap[graphdef.InputName(src, index)]; mapped {
			continue
		}
		srcOp, _ := LookupOp(byName[src].Op)
		if index >= srcOp.NumOutputs {
			return fmt.Errorf("%w: input %q: %s has %d outputs", ErrInvalidInput, in, src, srcOp.NumOutputs)
		}
	}
	if op.NumInputs >= 0 && data != op.NumInputs {
		return fmt.Errorf("%w: %s expects %d inputs, got %d", ErrInvalidInput, n.Op, op.NumInputs, data)
	}
	return nil
}
