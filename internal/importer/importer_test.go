package importer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/graphfreeze/internal/freeze"
	"github.com/born-ml/graphfreeze/internal/graph"
	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frozenModel freezes y = Relu(x * scale) and returns the written file.
func frozenModel(t *testing.T) string {
	t.Helper()
	g := graph.New()
	s := graph.NewScope(g)
	x := graph.Placeholder(s.WithOpName("x"), tensor.Float32, tensor.Shape{-1})
	scale, err := tensor.FromFloat32([]float32{2}, tensor.Shape{1})
	require.NoError(t, err)
	w := graph.Variable(s.WithOpName("scale"), scale)
	graph.Relu(s.WithOpName("y"), graph.Mul(s, x, w))
	require.NoError(t, s.Err())

	path := filepath.Join(t.TempDir(), "model.pb")
	_, err = freeze.FreezeGraph(g, []string{"y"}, freeze.Options{OutFile: path})
	require.NoError(t, err)
	return path
}

func run(t *testing.T, g *graph.Graph, feed, fetch string, values ...float32) []float32 {
	t.Helper()
	x, err := tensor.FromFloat32(values, tensor.Shape{len(values)})
	require.NoError(t, err)
	out, err := graph.NewSession(g).RunNamed(map[string]*tensor.Tensor{feed: x}, []string{fetch}, nil)
	require.NoError(t, err)
	return out[0].AsFloat32()
}

func TestImportFile(t *testing.T) {
	path := frozenModel(t)

	g, err := ImportFile(path, DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, g.Node("import/y"))
	assert.Nil(t, g.Node("y"))
	assert.Equal(t, []float32{2, 0, 6}, run(t, g, "import/x", "import/y", 1, -1, 3))

	g, err = ImportFile(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Const", g.Node("scale").Type())
	assert.Equal(t, []float32{4}, run(t, g, "x:0", "y:0", 2))
}

func TestImportFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ImportFile(filepath.Join(dir, "missing.pb"), DefaultOptions())
	require.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.pb")
	require.NoError(t, os.WriteFile(garbage, []byte{0x0a, 0xff}, 0o600))
	_, err = ImportFile(garbage, DefaultOptions())
	require.ErrorIs(t, err, graphdef.ErrMalformed)

	unknown := &graphdef.GraphDef{Node: []*graphdef.NodeDef{{Name: "q", Op: "Quantize"}}}
	data, err := graphdef.Marshal(unknown)
	require.NoError(t, err)
	_, err = ImportBytes(data, DefaultOptions())
	require.ErrorIs(t, err, graph.ErrUnknownOp)
	var ie *graph.ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "q", ie.Node)
}

func TestIntoWithInputMap(t *testing.T) {
	def, err := graphdef.ReadFile(frozenModel(t))
	require.NoError(t, err)

	g := graph.New()
	s := graph.NewScope(g)
	in := graph.Placeholder(s.WithOpName("input"), tensor.Float32, tensor.Shape{-1})
	require.NoError(t, s.Err())

	names, err := Into(g, def, Options{
		Name:           "model",
		InputMap:       map[string]graph.Output{"x:0": in},
		ReturnElements: []string{"y:0", "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"model/y:0", "model/y"}, names)
	assert.Equal(t, []float32{0, 10}, run(t, g, "input", names[0], -4, 5))

	// The same def imported again lands under a fresh prefix.
	names, err = Into(g, def, Options{Name: "model", ReturnElements: []string{"y"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"model_1/y"}, names)
}
