package dag

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// fakeLibrary is a nodelib.Library test double whose Execute result is
// fixed at construction, for driving executeCustom's output-validation
// failure paths without a compiled .so.
type fakeLibrary struct {
	outputs []nodelib.NamedTensor
	err     error
}

func (f *fakeLibrary) Execute(inputs []nodelib.NamedTensor, params []nodelib.Param) (*nodelib.ExecuteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nodelib.NewExecuteResult(f.outputs), nil
}

func (f *fakeLibrary) GetInputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error)  { return nil, nil }
func (f *fakeLibrary) GetOutputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) { return nil, nil }
func (f *fakeLibrary) Name() string                                                        { return "fake" }

func newCustomNodeWithLibrary(lib nodelib.Library) *Node {
	n := NewCustomNode("custom", nil, nil, lib, nil, 0, "")
	return n
}

func floatTensor(t *testing.T, values []float32) *tensor.Tensor {
	t.Helper()
	data := make([]byte, len(values)*4)
	for i, v := range values {
		bits := math.Float32bits(v)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	tv, err := tensor.New(tensor.FP32, []int64{int64(len(values))}, data, nil)
	require.NoError(t, err)
	return tv
}

func TestEntryNodeExecuteEmitsBinding(t *testing.T) {
	in := floatTensor(t, []float32{1, 2, 3})
	n := NewEntryNode("entry", []string{"a"}, EntryBinding{"a": in})
	out, err := n.Execute(context.Background())
	require.NoError(t, err)
	assert.Same(t, in, out["a"])
}

func TestNodeReadyOnlyWhenAllInputsSet(t *testing.T) {
	n := NewExitNode("exit", []string{"a", "b"}, ExitBinding{})
	assert.False(t, n.IsReady())
	require.NoError(t, n.SetInput("a", floatTensor(t, []float32{1})))
	assert.False(t, n.IsReady())
	require.NoError(t, n.SetInput("b", floatTensor(t, []float32{2})))
	assert.True(t, n.IsReady())
}

func TestExitNodeWritesBinding(t *testing.T) {
	binding := ExitBinding{}
	n := NewExitNode("exit", []string{"a"}, binding)
	tv := floatTensor(t, []float32{5})
	require.NoError(t, n.SetInput("a", tv))
	_, err := n.Execute(context.Background())
	require.NoError(t, err)
	assert.Same(t, tv, binding["a"])
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	edges := []Edge{
		{SourceNode: "a", DestNode: "b"},
		{SourceNode: "b", DestNode: "a"},
	}
	_, err := TopologicalOrder([]string{"a", "b"}, edges)
	assert.Error(t, err)
}

func TestTopologicalOrderLinearChain(t *testing.T) {
	edges := []Edge{
		{SourceNode: "entry", DestNode: "mid"},
		{SourceNode: "mid", DestNode: "exit"},
	}
	order, err := TopologicalOrder([]string{"exit", "mid", "entry"}, edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry", "mid", "exit"}, order)
}

func TestExecuteCustomRejectsNilOutput(t *testing.T) {
	lib := &fakeLibrary{outputs: []nodelib.NamedTensor{{Name: "a", Tensor: nil}}}
	n := newCustomNodeWithLibrary(lib)
	_, err := n.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.NodeLibraryOutputsCorrupted, status.Of(err).Code)
}

func TestExecuteCustomRejectsInvalidPrecision(t *testing.T) {
	bad := &tensor.Tensor{Precision: tensor.Precision(99), Dims: []int64{1}, Data: make([]byte, 4)}
	lib := &fakeLibrary{outputs: []nodelib.NamedTensor{{Name: "a", Tensor: bad}}}
	n := newCustomNodeWithLibrary(lib)
	_, err := n.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.NodeLibraryInvalidPrecision, status.Of(err).Code)
}

func TestExecuteCustomRejectsNoDimensions(t *testing.T) {
	bad := &tensor.Tensor{Precision: tensor.FP32, Dims: nil, Data: nil}
	lib := &fakeLibrary{outputs: []nodelib.NamedTensor{{Name: "a", Tensor: bad}}}
	n := newCustomNodeWithLibrary(lib)
	_, err := n.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.NodeLibraryInvalidShape, status.Of(err).Code)
}

func TestExecuteCustomRejectsNonPositiveDimension(t *testing.T) {
	bad := &tensor.Tensor{Precision: tensor.FP32, Dims: []int64{0}, Data: nil}
	lib := &fakeLibrary{outputs: []nodelib.NamedTensor{{Name: "a", Tensor: bad}}}
	n := newCustomNodeWithLibrary(lib)
	_, err := n.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.NodeLibraryInvalidShape, status.Of(err).Code)
}

func TestExecuteCustomRejectsContentSizeMismatch(t *testing.T) {
	bad := &tensor.Tensor{Precision: tensor.FP32, Dims: []int64{2}, Data: make([]byte, 3)}
	lib := &fakeLibrary{outputs: []nodelib.NamedTensor{{Name: "a", Tensor: bad}}}
	n := newCustomNodeWithLibrary(lib)
	_, err := n.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.NodeLibraryInvalidContentSize, status.Of(err).Code)
}

func TestExecuteCustomRejectsMissingDeclaredOutput(t *testing.T) {
	good := floatTensor(t, []float32{1, 2})
	lib := &fakeLibrary{outputs: []nodelib.NamedTensor{{Name: "produced", Tensor: good}}}
	n := NewCustomNode("custom", nil, map[string]string{"expected": "external"}, lib, nil, 0, "")
	_, err := n.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.NodeLibraryMissingOutput, status.Of(err).Code)
}

func TestExecuteCustomWrapsLibraryExecutionError(t *testing.T) {
	lib := &fakeLibrary{err: fmt.Errorf("boom")}
	n := newCustomNodeWithLibrary(lib)
	_, err := n.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.NodeLibraryExecutionFailed, status.Of(err).Code)
}
