// Package importer loads frozen GraphDef files back into a graph.
package importer

import (
	"fmt"
	"os"

	"github.com/born-ml/graphfreeze/internal/graph"
	"github.com/born-ml/graphfreeze/internal/graphdef"
	logs "github.com/sirupsen/logrus"
)

// DefaultName is the prefix imported nodes get by default.
const DefaultName = "import"

// Options mirror the keyword arguments of tf.import_graph_def.
type Options struct {
	// Name prefixes every imported node as "Name/node". Empty imports names
	// unchanged.
	Name string

	// InputMap replaces tensors of the imported graph, by name, with tensors
	// already in the target graph. Only meaningful with Into.
	InputMap map[string]graph.Output

	// ReturnElements lists tensors or nodes whose imported names Into returns.
	ReturnElements []string
}

// DefaultOptions returns options that import under DefaultName.
func DefaultOptions() Options {
	return Options{Name: DefaultName}
}

// ImportFile reads a serialized GraphDef from path and imports it into a new
// graph.
func ImportFile(path string, opts Options) (*graph.Graph, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller-chosen model file
	if err != nil {
		return nil, fmt.Errorf("failed to read graph: %w", err)
	}
	g, err := ImportBytes(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// ImportBytes deserializes data and imports it into a new graph.
func ImportBytes(data []byte, opts Options) (*graph.Graph, error) {
	def, err := graphdef.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	g := graph.New()
	if _, err := Into(g, def, opts); err != nil {
		return nil, err
	}
	return g, nil
}

// Into imports def into g and returns the imported names of
// opts.ReturnElements. A failed import leaves g unchanged.
func Into(g *graph.Graph, def *graphdef.GraphDef, opts Options) ([]string, error) {
	names, err := g.ImportGraphDef(def, graph.ImportOptions{
		Prefix:         opts.Name,
		InputMap:       opts.InputMap,
		ReturnElements: opts.ReturnElements,
	})
	if err != nil {
		return nil, err
	}
	logs.WithFields(logs.Fields{
		"name":  opts.Name,
		"nodes": len(def.Node),
	}).Debug("Imported graph def")
	return names, nil
}
