package graphdef

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/graphfreeze/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

func marshal(t *testing.T, def *GraphDef) []byte {
	t.Helper()
	data, err := Marshal(def)
	require.NoError(t, err)
	return data
}

// buildDenseGraph returns x -> MatMul(W) -> BiasAdd(b) -> Softmax with W and b frozen.
func buildDenseGraph(t *testing.T) *GraphDef {
	t.Helper()
	w, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})
	require.NoError(t, err)
	wp, err := TensorProtoFromTensor(w)
	require.NoError(t, err)

	return &GraphDef{
		Node: []*NodeDef{
			{Name: "x", Op: "Placeholder", Attr: map[string]*AttrValue{
				"dtype": AttrType(DTFloat),
				"shape": AttrShape(ShapeProto(-1, 3)),
			}},
			{Name: "dense/weights", Op: "Const", Attr: map[string]*AttrValue{
				"dtype": AttrType(DTFloat),
				"value": AttrTensor(wp),
			}},
			{Name: "dense/biases", Op: "Const", Attr: map[string]*AttrValue{
				"dtype": AttrType(DTFloat),
				"value": AttrTensor(&TensorProto{Dtype: DTFloat, TensorShape: ShapeProto(2), FloatVal: []float32{0.5}}),
			}},
			{Name: "dense/MatMul", Op: "MatMul", Input: []string{"x", "dense/weights"}, Attr: map[string]*AttrValue{
				"T":           AttrType(DTFloat),
				"transpose_a": AttrBool(false),
				"transpose_b": AttrBool(false),
			}},
			{Name: "dense/BiasAdd", Op: "BiasAdd", Input: []string{"dense/MatMul", "dense/biases"}},
			{Name: "prob", Op: "Softmax", Input: []string{"dense/BiasAdd"}},
			{Name: "init", Op: "NoOp", Input: []string{"^prob"}},
		},
		Versions: &VersionDef{Producer: ProducerVersion},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	def := buildDenseGraph(t)
	data := marshal(t, def)
	require.NotEmpty(t, data)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, got.Node, len(def.Node))
	assert.True(t, proto.Equal(def, got))
	assert.Equal(t, int32(ProducerVersion), got.GetVersions().GetProducer())

	mm := got.Node[3]
	assert.Equal(t, AttrKindBool, KindOf(mm.Attr["transpose_a"]), "zero-valued oneof members survive")
	assert.False(t, mm.Attr["transpose_a"].GetB())
	assert.Equal(t, []int{-1, 3}, Dims(got.Node[0].Attr["shape"].GetShape()))

	w, err := TensorFromProto(got.Node[1].Attr["value"].GetTensor())
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.AsFloat32())

	// Marshal is deterministic.
	assert.Equal(t, data, marshal(t, got))
}

func TestAttrValues(t *testing.T) {
	def := &GraphDef{Node: []*NodeDef{{
		Name: "n",
		Op:   "MaxPool",
		Attr: map[string]*AttrValue{
			"axis":    AttrInt(-1),
			"alpha":   AttrFloat(0.25),
			"padding": AttrString("SAME"),
			"ksize":   AttrInts(1, 2, 2, 1),
			"names":   AttrStrings("a", "b"),
			"zero":    AttrInt(0),
		},
	}}}

	got, err := Unmarshal(marshal(t, def))
	require.NoError(t, err)
	attr := got.Node[0].Attr
	assert.Equal(t, int64(-1), attr["axis"].GetI())
	assert.Equal(t, float32(0.25), attr["alpha"].GetF())
	assert.Equal(t, "SAME", string(attr["padding"].GetS()))
	assert.Equal(t, []int64{1, 2, 2, 1}, attr["ksize"].GetList().GetI())
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, attr["names"].GetList().GetS())
	assert.Equal(t, AttrKindInt, KindOf(attr["zero"]))
	assert.Equal(t, AttrKindList, KindOf(attr["ksize"]))
	assert.Equal(t, AttrUnset, KindOf(attr["missing"]))
}

func TestUnmarshalUnpackedAndUnknownFields(t *testing.T) {
	// TensorProto with unpacked float_val entries and an unknown field 99.
	var tp []byte
	tp = protowire.AppendTag(tp, 1, protowire.VarintType)
	tp = protowire.AppendVarint(tp, uint64(DTFloat))
	tp = protowire.AppendTag(tp, 5, protowire.Fixed32Type)
	tp = protowire.AppendFixed32(tp, 0x3f800000) // 1.0
	tp = protowire.AppendTag(tp, 5, protowire.Fixed32Type)
	tp = protowire.AppendFixed32(tp, 0x40000000) // 2.0
	tp = protowire.AppendTag(tp, 99, protowire.BytesType)
	tp = protowire.AppendString(tp, "ignored")

	var attr []byte
	attr = protowire.AppendTag(attr, 8, protowire.BytesType)
	attr = protowire.AppendBytes(attr, tp)

	var entry []byte
	entry = protowire.AppendTag(entry, 1, protowire.BytesType)
	entry = protowire.AppendString(entry, "value")
	entry = protowire.AppendTag(entry, 2, protowire.BytesType)
	entry = protowire.AppendBytes(entry, attr)

	var node []byte
	node = protowire.AppendTag(node, 1, protowire.BytesType)
	node = protowire.AppendString(node, "c")
	node = protowire.AppendTag(node, 2, protowire.BytesType)
	node = protowire.AppendString(node, "Const")
	node = protowire.AppendTag(node, 5, protowire.BytesType)
	node = protowire.AppendBytes(node, entry)

	var data []byte
	data = protowire.AppendTag(data, 1, protowire.BytesType)
	data = protowire.AppendBytes(data, node)
	data = protowire.AppendTag(data, 3, protowire.VarintType) // deprecated "version"
	data = protowire.AppendVarint(data, 5)

	def, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, def.Node, 1)
	assert.Equal(t, []float32{1, 2}, def.Node[0].Attr["value"].GetTensor().GetFloatVal())
}

func TestUnmarshalMalformed(t *testing.T) {
	data := marshal(t, buildDenseGraph(t))

	_, err := Unmarshal(data[:len(data)-3])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))

	// NodeDef length prefix runs past the end of the input.
	var bad []byte
	bad = protowire.AppendTag(bad, 1, protowire.BytesType)
	bad = protowire.AppendVarint(bad, 10)
	bad = append(bad, 0x0a, 0x01)
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTensorProtoTypedValues(t *testing.T) {
	// A single value fills the whole shape.
	p := &TensorProto{Dtype: DTFloat, TensorShape: ShapeProto(2, 2), FloatVal: []float32{3}}
	x, err := TensorFromProto(p)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 3, 3, 3}, x.AsFloat32())

	// A short list repeats its last value.
	p = &TensorProto{Dtype: DTInt32, TensorShape: ShapeProto(4), IntVal: []int32{1, -2}}
	x, err = TensorFromProto(p)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, -2, -2}, x.AsInt32())

	// No values means zeros; no shape means a scalar.
	p = &TensorProto{Dtype: DTInt64}
	x, err = TensorFromProto(p)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{}, x.Shape())
	assert.Equal(t, []int64{0}, x.AsInt64())
}

func TestTensorProtoInvalid(t *testing.T) {
	tests := []struct {
		name  string
		proto *TensorProto
		err   error
	}{
		{"too many values", &TensorProto{Dtype: DTFloat, TensorShape: ShapeProto(1), FloatVal: []float32{1, 2}}, ErrMalformed},
		{"string dtype", &TensorProto{Dtype: DTString, StringVal: [][]byte{[]byte("x")}}, ErrUnsupportedType},
		{"unknown dimension", &TensorProto{Dtype: DTFloat, TensorShape: ShapeProto(-1)}, ErrMalformed},
		{"unknown rank", &TensorProto{Dtype: DTFloat, TensorShape: &TensorShapeProto{UnknownRank: true}}, ErrMalformed},
		{"element count overflows", &TensorProto{Dtype: DTFloat, TensorShape: ShapeProto(1<<61, 3)}, ErrMalformed},
		{"byte size overflows", &TensorProto{Dtype: DTInt64, TensorShape: ShapeProto(1 << 61)}, ErrMalformed},
		{"splat too large", &TensorProto{Dtype: DTFloat, TensorShape: ShapeProto(1 << 40), FloatVal: []float32{1}}, ErrMalformed},
		{"content too short", &TensorProto{Dtype: DTFloat, TensorShape: ShapeProto(1<<61, 3), TensorContent: []byte{0, 0, 0, 0}}, ErrMalformed},
		{"content size mismatch", &TensorProto{Dtype: DTInt32, TensorShape: ShapeProto(2), TensorContent: []byte{1, 0, 0, 0}}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TensorFromProto(tt.proto)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestTensorProtoRoundTrip(t *testing.T) {
	x, err := tensor.FromInt64([]int64{-5, 7}, tensor.Shape{2})
	require.NoError(t, err)
	p, err := TensorProtoFromTensor(x)
	require.NoError(t, err)
	assert.Equal(t, DTInt64, p.Dtype)

	def := &GraphDef{Node: []*NodeDef{{Name: "c", Op: "Const", Attr: map[string]*AttrValue{"value": AttrTensor(p)}}}}
	got, err := Unmarshal(marshal(t, def))
	require.NoError(t, err)
	y, err := TensorFromProto(got.Node[0].Attr["value"].GetTensor())
	require.NoError(t, err)
	assert.True(t, x.Equal(y))
}

func TestParseTensorName(t *testing.T) {
	tests := []struct {
		in      string
		node    string
		index   int
		control bool
	}{
		{"conv1", "conv1", 0, false},
		{"split:1", "split", 1, false},
		{"^init", "init", -1, true},
		{"scope/a:b", "scope/a:b", 0, false},
	}
	for _, tt := range tests {
		node, index, control := ParseTensorName(tt.in)
		assert.Equal(t, tt.node, node, tt.in)
		assert.Equal(t, tt.index, index, tt.in)
		assert.Equal(t, tt.control, control, tt.in)
	}
	assert.Equal(t, "split:1", InputName("split", 1))
	assert.Equal(t, "split", InputName("split", 0))
	assert.Equal(t, "^init", ControlInput("init"))
}

func TestInfo(t *testing.T) {
	info := Info(buildDenseGraph(t))
	assert.Equal(t, 7, info.NodeCount)
	assert.Equal(t, []string{"x"}, info.Inputs)
	assert.Equal(t, 2, info.Constants)
	assert.Equal(t, int64(24+4), info.ConstBytes)
	assert.Equal(t, 0, info.Variables)
	assert.Equal(t, 1, info.Ops["Softmax"])
	// prob is consumed only by init's control edge; init is a NoOp.
	assert.Empty(t, info.Outputs)
	assert.Equal(t, int32(ProducerVersion), info.Producer)
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.pb")
	def := buildDenseGraph(t)
	require.NoError(t, WriteFile(path, def))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, got.Node, len(def.Node))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	_, err = ReadFile(filepath.Join(dir, "missing.pb"))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
