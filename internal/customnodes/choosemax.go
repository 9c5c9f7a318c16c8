package customnodes

import (
	"fmt"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
)

// ChooseMaxInputAlias and ChooseMaxOutputAlias are the aliases the
// choose_max library declares. It sits on the gather side of a
// demultiplex/gather pair: its input is the
// [K,N] tensor a gather node assembled from K shard executions, and
// its output is the single length-N row selected by selection_criteria.
const (
	ChooseMaxInputAlias  = "input_numbers"
	ChooseMaxOutputAlias = "output_numbers"

	SelectionCriteriaMaximumMaximum = "MAXIMUM_MAXIMUM"
	SelectionCriteriaMaximumMinimum = "MAXIMUM_MINIMUM"
)

// ChooseMax implements the choose_max reference custom-node library.
// Reading the input as K rows of N columns, it reduces each row to a
// single aggregate value — the row's maximum under
// SelectionCriteriaMaximumMaximum, its minimum under
// SelectionCriteriaMaximumMinimum — then outputs whichever row attains
// the largest aggregate.
type ChooseMax struct{}

var _ nodelib.Library = ChooseMax{}

func (ChooseMax) Name() string { return "choose_max" }

func (ChooseMax) GetInputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return []nodelib.TensorInfo{{Name: ChooseMaxInputAlias}}, nil
}

func (ChooseMax) GetOutputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return []nodelib.TensorInfo{{Name: ChooseMaxOutputAlias}}, nil
}

func (c ChooseMax) Execute(inputs []nodelib.NamedTensor, params []nodelib.Param) (*nodelib.ExecuteResult, error) {
	criteria := paramString(params, "selection_criteria", SelectionCriteriaMaximumMaximum)
	if criteria != SelectionCriteriaMaximumMaximum && criteria != SelectionCriteriaMaximumMinimum {
		return nil, fmt.Errorf("choose_max: unknown selection_criteria %q", criteria)
	}

	in, err := findInput(inputs, ChooseMaxInputAlias)
	if err != nil {
		return nil, err
	}
	if len(in.Dims) != 2 {
		return nil, fmt.Errorf("choose_max: expected a 2-D [K,N] input, got dims %v", in.Dims)
	}
	k := int(in.Dims[0])
	n := int(in.Dims[1])

	values, err := floatsFromTensor(in)
	if err != nil {
		return nil, err
	}

	bestRow := 0
	bestAggregate := rowAggregate(values, 0, n, criteria)
	for row := 1; row < k; row++ {
		agg := rowAggregate(values, row, n, criteria)
		if agg > bestAggregate {
			bestAggregate = agg
			bestRow = row
		}
	}

	out := make([]float32, n)
	copy(out, values[bestRow*n:(bestRow+1)*n])

	t, err := tensorFromFloats([]int64{int64(n)}, out, nodelib.NewOutputOwner(c))
	if err != nil {
		return nil, err
	}
	return nodelib.NewExecuteResult([]nodelib.NamedTensor{{Name: ChooseMaxOutputAlias, Tensor: t}}), nil
}

func rowAggregate(values []float32, row, n int, criteria string) float32 {
	start := row * n
	agg := values[start]
	for _, v := range values[start+1 : start+n] {
		switch criteria {
		case SelectionCriteriaMaximumMinimum:
			if v < agg {
				agg = v
			}
		default: // SelectionCriteriaMaximumMaximum
			if v > agg {
				agg = v
			}
		}
	}
	return agg
}
