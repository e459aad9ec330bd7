package freeze

import (
	"path/filepath"
	"testing"

	"github.com/born-ml/graphfreeze/internal/graph"
	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/params"
	"github.com/born-ml/graphfreeze/internal/tensor"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func mustFloat32(t *testing.T, values []float32, shape tensor.Shape) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromFloat32(values, shape)
	require.NoError(t, err)
	return x
}

// buildDense builds prob = Softmax(x @ dense/weights + dense/biases).
func buildDense(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	s := graph.NewScope(g)
	x := graph.Placeholder(s.WithOpName("x"), tensor.Float32, tensor.Shape{-1, 2})
	dense := s.SubScope("dense")
	w := graph.Variable(dense.WithOpName("weights"), mustFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2}))
	b := graph.Variable(dense.WithOpName("biases"), mustFloat32(t, []float32{0.5, -0.5}, tensor.Shape{2}))
	graph.Softmax(s.WithOpName("prob"), graph.BiasAdd(dense, graph.MatMul(dense, x, w, false, false), b))
	require.NoError(t, s.Err())
	return g
}

func nodeNames(def *graphdef.GraphDef) []string {
	names := make([]string, len(def.Node))
	for i, n := range def.Node {
		names[i] = n.Name
	}
	return names
}

func nodeByName(def *graphdef.GraphDef, name string) *graphdef.NodeDef {
	for _, n := range def.Node {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func constValue(t *testing.T, def *graphdef.GraphDef, name string) *tensor.Tensor {
	t.Helper()
	n := nodeByName(def, name)
	require.NotNil(t, n, name)
	require.Equal(t, "Const", n.Op, name)
	v, err := graphdef.TensorFromProto(n.Attr["value"].GetTensor())
	require.NoError(t, err)
	return v
}

func TestFreezeGraph(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	g := buildDense(t)
	sess := graph.NewSession(g)
	out := filepath.Join(t.TempDir(), "model.pb")

	frozen, err := FreezeGraph(g, []string{"prob"}, Options{Session: sess, OutFile: out})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"x",
		"dense/weights", "dense/weights/read",
		"dense/biases", "dense/biases/read",
		"dense/MatMul", "dense/BiasAdd", "prob",
	}, nodeNames(frozen))
	for _, n := range frozen.Node {
		assert.False(t, graphdef.IsVariableOp(n.Op), n.Name)
	}
	assert.Equal(t, []float32{1, 2, 3, 4}, constValue(t, frozen, "dense/weights").AsFloat32())
	assert.Equal(t, tensor.Shape{2}, constValue(t, frozen, "dense/biases").Shape())

	onDisk, err := graphdef.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, proto.Equal(frozen, onDisk))

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "Froze 2 variables.")
	assert.Contains(t, messages, "Converted 2 variables to const ops.")
}

func TestFrozenGraphMatchesSession(t *testing.T) {
	g := buildDense(t)
	sess := graph.NewSession(g)
	frozen, err := FreezeGraph(g, []string{"prob"}, Options{Session: sess, OutFile: filepath.Join(t.TempDir(), "m.pb")})
	require.NoError(t, err)

	x := mustFloat32(t, []float32{1, 0, -1, 2, 0.5, 0.5}, tensor.Shape{3, 2})
	want, err := sess.RunNamed(map[string]*tensor.Tensor{"x": x}, []string{"prob"}, nil)
	require.NoError(t, err)

	imported := graph.New()
	names, err := imported.ImportGraphDef(frozen, graph.ImportOptions{Prefix: "import", ReturnElements: []string{"prob:0"}})
	require.NoError(t, err)
	require.Equal(t, []string{"import/prob:0"}, names)

	got, err := graph.NewSession(imported).RunNamed(map[string]*tensor.Tensor{"import/x": x}, names, nil)
	require.NoError(t, err)
	assert.True(t, want[0].AllClose(got[0], 1e-6), "want %v, got %v", want[0], got[0])
}

func TestFreezeGraphRestoresCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "weights.safetensors")
	require.NoError(t, params.WriteFile(ckpt, params.Set{
		"dense/weights": mustFloat32(t, []float32{9, 8, 7, 6}, tensor.Shape{2, 2}),
	}))

	g := buildDense(t)
	frozen, err := FreezeGraph(g, []string{"prob"}, Options{Checkpoint: ckpt, OutFile: filepath.Join(dir, "m.pb")})
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 8, 7, 6}, constValue(t, frozen, "dense/weights").AsFloat32())
	assert.Equal(t, []float32{0.5, -0.5}, constValue(t, frozen, "dense/biases").AsFloat32())

	bad := filepath.Join(dir, "bad.safetensors")
	require.NoError(t, params.WriteFile(bad, params.Set{"nope": tensor.Scalar(1)}))
	_, err = FreezeGraph(buildDense(t), []string{"prob"}, Options{Checkpoint: bad, OutFile: filepath.Join(dir, "m2.pb")})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestFreezeGraphUnknownOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "m.pb")
	_, err := FreezeGraph(buildDense(t), []string{"logits"}, Options{OutFile: out})
	require.ErrorIs(t, err, ErrOutputNotFound)
	assert.NoFileExists(t, out)
}

func TestConvertOptions(t *testing.T) {
	g := buildDense(t)
	sess := graph.NewSession(g)
	def := g.AsGraphDef()
	initOp, err := g.GlobalVariablesInitializer()
	require.NoError(t, err)
	_, err = sess.Run(nil, nil, []*graph.Node{initOp})
	require.NoError(t, err)

	tests := []struct {
		name      string
		opts      ConvertOptions
		wantConst []string
		wantVar   []string
	}{
		{"all", ConvertOptions{}, []string{"dense/weights", "dense/biases"}, nil},
		{"allowlist", ConvertOptions{Allowlist: []string{"dense/weights"}}, []string{"dense/weights"}, []string{"dense/biases"}},
		{"denylist", ConvertOptions{Denylist: []string{"dense/weights"}}, []string{"dense/biases"}, []string{"dense/weights"}},
		{"empty allowlist", ConvertOptions{Allowlist: []string{}}, nil, []string{"dense/weights", "dense/biases"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ConvertVariablesToConstants(sess, def, []string{"prob"}, tt.opts)
			require.NoError(t, err)
			for _, name := range tt.wantConst {
				assert.Equal(t, "Const", nodeByName(out, name).Op, name)
			}
			for _, name := range tt.wantVar {
				assert.Equal(t, "VariableV2", nodeByName(out, name).Op, name)
			}
		})
	}
}

func TestConvertUninitialized(t *testing.T) {
	g := buildDense(t)
	_, err := ConvertVariablesToConstants(graph.NewSession(g), g.AsGraphDef(), []string{"prob"}, ConvertOptions{})
	require.ErrorIs(t, err, graph.ErrUninitialized)
}

func TestConvertResourceVariables(t *testing.T) {
	g := graph.New()
	add := func(def *graphdef.NodeDef) {
		_, err := g.AddNode(def)
		require.NoError(t, err)
	}
	initial := mustFloat32(t, []float32{3, 4}, tensor.Shape{2})
	p, err := graphdef.TensorProtoFromTensor(initial)
	require.NoError(t, err)

	add(&graphdef.NodeDef{Name: "v", Op: "VarHandleOp", Attr: map[string]*graphdef.AttrValue{
		"dtype": graphdef.AttrType(graphdef.DTFloat),
		"shape": graphdef.AttrShape(graphdef.ShapeProto(2)),
	}})
	add(&graphdef.NodeDef{Name: "v/init", Op: "Const", Attr: map[string]*graphdef.AttrValue{
		"dtype": graphdef.AttrType(graphdef.DTFloat),
		"value": graphdef.AttrTensor(p),
	}})
	add(&graphdef.NodeDef{Name: "v/assign", Op: "AssignVariableOp", Input: []string{"v", "v/init"}, Attr: map[string]*graphdef.AttrValue{
		"dtype": graphdef.AttrType(graphdef.DTFloat),
	}})
	add(&graphdef.NodeDef{Name: "v/read", Op: "ReadVariableOp", Input: []string{"v"}, Attr: map[string]*graphdef.AttrValue{
		"dtype": graphdef.AttrType(graphdef.DTFloat),
	}})
	add(&graphdef.NodeDef{Name: "out", Op: "Relu", Input: []string{"v/read"}, Attr: map[string]*graphdef.AttrValue{
		"T": graphdef.AttrType(graphdef.DTFloat),
	}})

	sess := graph.NewSession(g)
	_, err = sess.RunNamed(nil, nil, []string{"v/assign"})
	require.NoError(t, err)

	out, err := ConvertVariablesToConstants(sess, g.AsGraphDef(), []string{"out"}, ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"v", "v/read", "out"}, nodeNames(out))
	assert.Equal(t, []float32{3, 4}, constValue(t, out, "v").AsFloat32())
	read := nodeByName(out, "v/read")
	assert.Equal(t, "Identity", read.Op)
	assert.Equal(t, graphdef.DTFloat, read.Attr["T"].GetType())
	assert.NotContains(t, read.Attr, "dtype")

	imported := graph.New()
	_, err = imported.ImportGraphDef(out, graph.ImportOptions{})
	require.NoError(t, err)
	got, err := graph.NewSession(imported).RunNamed(nil, []string{"out"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, got[0].AsFloat32())
}

func TestExtractSubGraph(t *testing.T) {
	def := &graphdef.GraphDef{Node: []*graphdef.NodeDef{
		{Name: "a", Op: "Const"},
		{Name: "unused", Op: "Const"},
		{Name: "b", Op: "Identity", Input: []string{"a:0"}},
		{Name: "c", Op: "NoOp"},
		{Name: "d", Op: "Identity", Input: []string{"b", "^c"}},
	}}
	sub, err := ExtractSubGraph(def, []string{"d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, nodeNames(sub))

	_, err = ExtractSubGraph(def, []string{"missing"})
	require.ErrorIs(t, err, ErrOutputNotFound)

	broken := &graphdef.GraphDef{Node: []*graphdef.NodeDef{{Name: "d", Op: "Identity", Input: []string{"gone"}}}}
	_, err = ExtractSubGraph(broken, []string{"d"})
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
}
