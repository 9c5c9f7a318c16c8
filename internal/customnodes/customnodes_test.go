package customnodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
)

func floatsInput(name string, dims []int64, values []float32) nodelib.NamedTensor {
	t, err := tensorFromFloats(dims, values, nil)
	if err != nil {
		panic(err)
	}
	return nodelib.NamedTensor{Name: name, Tensor: t}
}

func TestAddSubExecute(t *testing.T) {
	in := floatsInput(AddSubInputAlias, []int64{3}, []float32{1, 2, 3})
	res, err := (AddSub{}).Execute([]nodelib.NamedTensor{in}, []nodelib.Param{
		{Key: "add", Value: "5"},
		{Key: "sub", Value: "1"},
	})
	require.NoError(t, err)
	out, err := floatsFromTensor(res.Outputs[0].Tensor)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 7}, out)
}

func TestDifferentOpsExecute(t *testing.T) {
	in := floatsInput(DifferentOpsInputAlias, []int64{2}, []float32{10, 20})
	res, err := (DifferentOps{}).Execute([]nodelib.NamedTensor{in}, []nodelib.Param{
		{Key: "factors", Value: "1,2,3,2"},
	})
	require.NoError(t, err)
	out := res.Outputs[0].Tensor
	assert.Equal(t, []int64{4, 2}, out.Dims)
	values, err := floatsFromTensor(out)
	require.NoError(t, err)
	assert.Equal(t, []float32{
		11, 21, // + 1
		8, 18, // - 2
		30, 60, // * 3
		5, 10, // / 2
	}, values)
}

func TestChooseMaxMaximumMaximum(t *testing.T) {
	in := floatsInput(ChooseMaxInputAlias, []int64{3, 2}, []float32{
		1, 2, // row 0 max 2
		5, 4, // row 1 max 5
		3, 3, // row 2 max 3
	})
	res, err := (ChooseMax{}).Execute([]nodelib.NamedTensor{in}, []nodelib.Param{
		{Key: "selection_criteria", Value: SelectionCriteriaMaximumMaximum},
	})
	require.NoError(t, err)
	out, err := floatsFromTensor(res.Outputs[0].Tensor)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 4}, out)
}

func TestChooseMaxMaximumMinimum(t *testing.T) {
	in := floatsInput(ChooseMaxInputAlias, []int64{3, 2}, []float32{
		1, 9, // row 0 min 1
		5, 4, // row 1 min 4
		3, 3, // row 2 min 3
	})
	res, err := (ChooseMax{}).Execute([]nodelib.NamedTensor{in}, []nodelib.Param{
		{Key: "selection_criteria", Value: SelectionCriteriaMaximumMinimum},
	})
	require.NoError(t, err)
	out, err := floatsFromTensor(res.Outputs[0].Tensor)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 4}, out)
}
