package graphdef

import (
	"strconv"
	"strings"
)

// ParseTensorName splits a node input or tensor name.
//
//	"conv1"    -> ("conv1", 0, false)
//	"split:1"  -> ("split", 1, false)
//	"^init"    -> ("init", -1, true)
//
// A suffix that is not a non-negative integer is part of the node name.
func ParseTensorName(s string) (node string, index int, control bool) {
	if strings.HasPrefix(s, "^") {
		return s[1:], -1, true
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		if n, err := strconv.Atoi(s[i+1:]); err == nil && n >= 0 {
			return s[:i], n, false
		}
	}
	return s, 0, false
}

// InputName formats a data input the way GraphDef stores it.
// Output 0 is written as the bare node name.
func InputName(node string, index int) string {
	if index == 0 {
		return node
	}
	return node + ":" + strconv.Itoa(index)
}

// ControlInput formats a control dependency on node.
func ControlInput(node string) string {
	return "^" + node
}
