// Package freeze turns a graph and its trained variables into a single
// self-contained GraphDef, with every variable replaced by a constant.
package freeze

import (
	"errors"
	"fmt"

	"github.com/born-ml/graphfreeze/internal/graph"
	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/params"
	"github.com/born-ml/graphfreeze/internal/tensor"
	logs "github.com/sirupsen/logrus"
)

// ErrOutputNotFound is returned when an output node is not in the graph.
var ErrOutputNotFound = errors.New("output node not found in graph")

// DefaultOutFile is where FreezeGraph writes when no file is given.
const DefaultOutFile = "graph.pb"

// ConvertOptions restrict which variables are converted.
type ConvertOptions struct {
	// Allowlist, when non-nil, limits conversion to these variable names.
	Allowlist []string
	// Denylist keeps these variables as variables.
	Denylist []string
}

// Options configure FreezeGraph.
type Options struct {
	// Session supplies variable values. When nil a fresh session over the
	// graph is created.
	Session *graph.Session
	// Checkpoint is an optional safetensors file restored into the session
	// after the variables are initialized.
	Checkpoint string
	// OutFile is the destination file. Defaults to DefaultOutFile.
	OutFile string
	ConvertOptions
}

// DefaultOptions returns options that write to DefaultOutFile.
func DefaultOptions() Options {
	return Options{OutFile: DefaultOutFile}
}

// FreezeGraph initializes every global variable of g, optionally restores a
// checkpoint, converts the sub-graph needed by outputNodes to constants and
// writes it to opts.OutFile.
func FreezeGraph(g *graph.Graph, outputNodes []string, opts Options) (*graphdef.GraphDef, error) {
	if opts.OutFile == "" {
		opts.OutFile = DefaultOutFile
	}
	sess := opts.Session
	if sess == nil {
		sess = graph.NewSession(g)
	}

	// Serialize before the initializer is added so it stays out of the result.
	def := g.AsGraphDef()

	initOp, err := g.GlobalVariablesInitializer()
	if err != nil {
		return nil, fmt.Errorf("failed to create initializer: %w", err)
	}
	if _, err := sess.Run(nil, nil, []*graph.Node{initOp}); err != nil {
		return nil, fmt.Errorf("failed to initialize variables: %w", err)
	}

	if opts.Checkpoint != "" {
		values, err := params.ReadFile(opts.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if err := sess.Restore(values); err != nil {
			return nil, fmt.Errorf("failed to restore checkpoint %s: %w", opts.Checkpoint, err)
		}
		logs.WithFields(logs.Fields{"checkpoint": opts.Checkpoint, "variables": len(values)}).Info("Restored checkpoint")
	}

	frozen, err := ConvertVariablesToConstants(sess, def, outputNodes, opts.ConvertOptions)
	if err != nil {
		return nil, err
	}
	if err := graphdef.WriteFile(opts.OutFile, frozen); err != nil {
		return nil, err
	}
	logs.WithFields(logs.Fields{"file": opts.OutFile, "nodes": len(frozen.Node)}).Info("Wrote frozen graph")
	return frozen, nil
}

// ConvertVariablesToConstants returns the part of def that outputNodes
// depend on, with every variable in it replaced by a Const holding the
// variable's current value in sess.
//
// Nodes keep their names and relative order. ReadVariableOp nodes that read a
// converted variable become Identity nodes.
func ConvertVariablesToConstants(sess *graph.Session, def *graphdef.GraphDef, outputNodes []string, opts ConvertOptions) (*graphdef.GraphDef, error) {
	sub, err := ExtractSubGraph(def, outputNodes)
	if err != nil {
		return nil, err
	}

	allow := toSet(opts.Allowlist)
	deny := toSet(opts.Denylist)
	var names []string
	for _, n := range sub.Node {
		if !graphdef.IsVariableOp(n.Op) {
			continue
		}
		if (allow != nil && !allow[n.Name]) || deny[n.Name] {
			continue
		}
		names = append(names, n.Name)
	}

	var values []*tensor.Tensor
	if len(names) > 0 {
		values, err = sess.RunNamed(nil, names, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read variables: %w", err)
		}
	}
	logs.Infof("Froze %d variables.", len(names))

	consts := make(map[string]*tensor.Tensor, len(names))
	for i, name := range names {
		consts[name] = values[i]
	}

	out := &graphdef.GraphDef{Versions: sub.Versions}
	if out.Versions == nil {
		out.Versions = &graphdef.VersionDef{Producer: graphdef.ProducerVersion}
	}
	for _, n := range sub.Node {
		switch {
		case consts[n.Name] != nil:
			c, err := constNode(n.Name, consts[n.Name])
			if err != nil {
				return nil, err
			}
			out.Node = append(out.Node, c)
		case n.Op == "ReadVariableOp" && len(n.Input) > 0 && consts[inputNode(n.Input[0])] != nil:
			id := graphdef.CloneNode(n)
			id.Op = "Identity"
			id.Attr = map[string]*graphdef.AttrValue{}
			if dt, ok := n.Attr["dtype"]; ok {
				id.Attr["T"] = dt
			}
			out.Node = append(out.Node, id)
		default:
			out.Node = append(out.Node, graphdef.CloneNode(n))
		}
	}
	logs.Infof("Converted %d variables to const ops.", len(names))
	return out, nil
}

// ExtractSubGraph keeps only the nodes the named outputs depend on, through
// data or control inputs, in their original order.
func ExtractSubGraph(def *graphdef.GraphDef, outputNodes []string) (*graphdef.GraphDef, error) {
	byName := make(map[string]*graphdef.NodeDef, len(def.Node))
	for _, n := range def.Node {
		byName[n.Name] = n
	}

	keep := make(map[string]bool)
	var queue []string
	for _, name := range outputNodes {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrOutputNotFound, name)
		}
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if keep[name] {
			continue
		}
		keep[name] = true
		n, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, name)
		}
		for _, in := range n.Input {
			queue = append(queue, inputNode(in))
		}
	}

	sub := &graphdef.GraphDef{Versions: def.Versions}
	for _, n := range def.Node {
		if keep[n.Name] {
			sub.Node = append(sub.Node, n)
		}
	}
	return sub, nil
}

func constNode(name string, value *tensor.Tensor) (*graphdef.NodeDef, error) {
	p, err := graphdef.TensorProtoFromTensor(value)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	return &graphdef.NodeDef{
		Name: name,
		Op:   "Const",
		Attr: map[string]*graphdef.AttrValue{
			"dtype": graphdef.AttrType(p.Dtype),
			"value": graphdef.AttrTensor(p),
		},
	}, nil
}

func inputNode(input string) string {
	name, _, _ := graphdef.ParseTensorName(input)
	return name
}

func toSet(names []string) map[string]bool {
	if names == nil {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
