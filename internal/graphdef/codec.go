package graphdef

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Marshal serializes the graph in protobuf wire format.
//
// Output is deterministic: map entries are written in key order, so the same
// graph always produces the same bytes.
func Marshal(def *GraphDef) ([]byte, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize graph: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a serialized GraphDef.
func Unmarshal(data []byte) (*GraphDef, error) {
	def := &GraphDef{}
	if err := proto.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("failed to parse graph: %w: %v", ErrMalformed, err)
	}
	return def, nil
}
