package graphdef

import (
	attrpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/attr_value_go_proto"
	graphpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/graph_go_proto"
	nodepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/node_def_go_proto"
	tensorpb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_go_proto"
	shapepb "github.com/galeone/tensorflow/tensorflow/go/core/framework/tensor_shape_go_proto"
	typespb "github.com/galeone/tensorflow/tensorflow/go/core/framework/types_go_proto"
	versionspb "github.com/galeone/tensorflow/tensorflow/go/core/framework/versions_go_proto"
)

// Message types are TensorFlow's generated protos.
type (
	GraphDef         = graphpb.GraphDef
	VersionDef       = versionspb.VersionDef
	NodeDef          = nodepb.NodeDef
	AttrValue        = attrpb.AttrValue
	ListValue        = attrpb.AttrValue_ListValue
	TensorProto      = tensorpb.TensorProto
	TensorShapeProto = shapepb.TensorShapeProto
	Dim              = shapepb.TensorShapeProto_Dim
	DataType         = typespb.DataType
)

// TensorFlow data types (subset).
const (
	DTInvalid = typespb.DataType_DT_INVALID
	DTFloat   = typespb.DataType_DT_FLOAT  // float32
	DTDouble  = typespb.DataType_DT_DOUBLE // float64
	DTInt32   = typespb.DataType_DT_INT32  // int32
	DTUint8   = typespb.DataType_DT_UINT8  // uint8
	DTString  = typespb.DataType_DT_STRING // string
	DTInt64   = typespb.DataType_DT_INT64  // int64
	DTBool    = typespb.DataType_DT_BOOL   // bool
)

// ProducerVersion is written into VersionDef.Producer of every graph we emit.
const ProducerVersion = 27

// AttrKind says which member of the AttrValue oneof is set.
type AttrKind int

// Attribute kinds.
const (
	AttrUnset AttrKind = iota
	AttrKindList
	AttrKindString
	AttrKindInt
	AttrKindFloat
	AttrKindBool
	AttrKindType
	AttrKindShape
	AttrKindTensor
)

// KindOf reports which oneof member of a is set.
func KindOf(a *AttrValue) AttrKind {
	switch a.GetValue().(type) {
	case *attrpb.AttrValue_List:
		return AttrKindList
	case *attrpb.AttrValue_S:
		return AttrKindString
	case *attrpb.AttrValue_I:
		return AttrKindInt
	case *attrpb.AttrValue_F:
		return AttrKindFloat
	case *attrpb.AttrValue_B:
		return AttrKindBool
	case *attrpb.AttrValue_Type:
		return AttrKindType
	case *attrpb.AttrValue_Shape:
		return AttrKindShape
	case *attrpb.AttrValue_Tensor:
		return AttrKindTensor
	default:
		return AttrUnset
	}
}

// Attribute constructors.

// AttrString returns a string attribute.
func AttrString(s string) *AttrValue {
	return &AttrValue{Value: &attrpb.AttrValue_S{S: []byte(s)}}
}

// AttrInt returns an int attribute.
func AttrInt(i int64) *AttrValue { return &AttrValue{Value: &attrpb.AttrValue_I{I: i}} }

// AttrFloat returns a float attribute.
func AttrFloat(f float32) *AttrValue { return &AttrValue{Value: &attrpb.AttrValue_F{F: f}} }

// AttrBool returns a bool attribute.
func AttrBool(b bool) *AttrValue { return &AttrValue{Value: &attrpb.AttrValue_B{B: b}} }

// AttrType returns a dtype attribute.
func AttrType(dt DataType) *AttrValue { return &AttrValue{Value: &attrpb.AttrValue_Type{Type: dt}} }

// AttrShape returns a shape attribute.
func AttrShape(s *TensorShapeProto) *AttrValue {
	return &AttrValue{Value: &attrpb.AttrValue_Shape{Shape: s}}
}

// AttrTensor returns a tensor attribute.
func AttrTensor(t *TensorProto) *AttrValue {
	return &AttrValue{Value: &attrpb.AttrValue_Tensor{Tensor: t}}
}

// AttrInts returns a list(int) attribute.
func AttrInts(v ...int64) *AttrValue {
	return &AttrValue{Value: &attrpb.AttrValue_List{List: &ListValue{I: v}}}
}

// AttrStrings returns a list(string) attribute.
func AttrStrings(v ...string) *AttrValue {
	list := &ListValue{}
	for _, s := range v {
		list.S = append(list.S, []byte(s))
	}
	return &AttrValue{Value: &attrpb.AttrValue_List{List: list}}
}

// ShapeProto builds a TensorShapeProto from dims; -1 marks unknown sizes.
func ShapeProto(dims ...int) *TensorShapeProto {
	s := &TensorShapeProto{Dim: make([]*Dim, len(dims))}
	for i, d := range dims {
		s.Dim[i] = &Dim{Size: int64(d)}
	}
	return s
}

// Dims returns the shape as ints.
func Dims(s *TensorShapeProto) []int {
	if s == nil {
		return nil
	}
	out := make([]int, len(s.GetDim()))
	for i, d := range s.GetDim() {
		out[i] = int(d.GetSize())
	}
	return out
}

// CloneNode copies the node. Attribute values are shared, not copied.
func CloneNode(n *NodeDef) *NodeDef {
	out := &NodeDef{
		Name:   n.GetName(),
		Op:     n.GetOp(),
		Input:  append([]string(nil), n.GetInput()...),
		Device: n.GetDevice(),
	}
	if n.GetAttr() != nil {
		out.Attr = make(map[string]*AttrValue, len(n.GetAttr()))
		for k, v := range n.GetAttr() {
			out.Attr[k] = v
		}
	}
	return out
}
