package graphdef

import "sort"

// ModelInfo summarizes a graph for inspection.
type ModelInfo struct {
	NodeCount  int            `json:"node_count"`
	Ops        map[string]int `json:"ops"`
	Inputs     []string       `json:"inputs"`  // Placeholder nodes
	Outputs    []string       `json:"outputs"` // Nodes no other node consumes
	Variables  int            `json:"variables"`
	Constants  int            `json:"constants"`
	ConstBytes int64          `json:"const_bytes"`
	Producer   int32          `json:"producer"`
}

// variableOps are op types that hold mutable state.
var variableOps = map[string]bool{
	"VariableV2":  true,
	"Variable":    true,
	"VarHandleOp": true,
}

// IsVariableOp reports whether op holds mutable state.
func IsVariableOp(op string) bool {
	return variableOps[op]
}

// Info extracts summary information without evaluating the graph.
func Info(def *GraphDef) ModelInfo {
	info := ModelInfo{
		NodeCount: len(def.Node),
		Ops:       make(map[string]int),
		Inputs:    []string{},
		Outputs:   []string{},
	}
	if def.Versions != nil {
		info.Producer = def.Versions.Producer
	}

	consumed := make(map[string]bool)
	for _, n := range def.Node {
		for _, in := range n.Input {
			name, _, _ := ParseTensorName(in)
			consumed[name] = true
		}
	}

	for _, n := range def.Node {
		info.Ops[n.Op]++
		switch {
		case n.Op == "Placeholder":
			info.Inputs = append(info.Inputs, n.Name)
		case IsVariableOp(n.Op):
			info.Variables++
		case n.Op == "Const":
			info.Constants++
			if p := n.Attr["value"].GetTensor(); p != nil {
				info.ConstBytes += protoBytes(p)
			}
		}
		if !consumed[n.Name] && n.Op != "NoOp" && n.Op != "Assign" {
			info.Outputs = append(info.Outputs, n.Name)
		}
	}
	sort.Strings(info.Outputs)
	return info
}

func protoBytes(p *TensorProto) int64 {
	if len(p.TensorContent) > 0 {
		return int64(len(p.TensorContent))
	}
	n := 4*len(p.FloatVal) + 8*len(p.DoubleVal) + 4*len(p.IntVal) + 8*len(p.Int64Val) + len(p.BoolVal)
	for _, s := range p.StringVal {
		n += len(s)
	}
	return int64(n)
}
