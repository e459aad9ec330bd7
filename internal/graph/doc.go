// Package graph provides an in-memory computation graph, the scope-based
// builders that add nodes to it, and the session that evaluates it.
//
// Node names, op types and attributes follow TensorFlow's conventions, so a
// graph converts to and from graphdef.GraphDef without translation.
//
// Example usage:
//
//	g := graph.New()
//	s := graph.NewScope(g)
//	x := graph.Placeholder(s.WithOpName("x"), tensor.Float32, tensor.Shape{-1, 3})
//	w := graph.Variable(s.WithOpName("w"), weights)
//	y := graph.Softmax(s.WithOpName("y"), graph.MatMul(s, x, w, false, false))
//	if err := s.Err(); err != nil {
//	    return err
//	}
//
//	sess := graph.NewSession(g)
//	init, _ := g.GlobalVariablesInitializer()
//	if _, err := sess.Run(nil, nil, []*graph.Node{init}); err != nil {
//	    return err
//	}
//	out, err := sess.Run(map[graph.Output]*tensor.Tensor{x: batch}, []graph.Output{y}, nil)
package graph
