// Package graphdef provides the serialized form of a computation graph.
//
// Messages are TensorFlow's generated GraphDef protos, so frozen files are
// ordinary .pb graphs. This package adds tensor conversion and the helpers
// the runtime builds and inspects graphs with.
//
// Key components:
//   - GraphDef: Top-level message holding the nodes and version info
//   - NodeDef: A single operation (name, op type, inputs, attributes)
//   - AttrValue: Typed attribute value (string, int, float, bool, type,
//     shape, tensor or a list of those)
//   - TensorProto: A constant tensor, the form frozen variables take
//
// Example usage:
//
//	def, err := graphdef.ReadFile("model.pb")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, node := range def.Node {
//	    fmt.Printf("%s (%s) <- %v\n", node.Name, node.Op, node.Input)
//	}
package graphdef
