package customnodes

import (
	"fmt"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// AddSubInputAlias and AddSubOutputAlias are the input/output aliases
// the add_sub library declares.
const (
	AddSubInputAlias  = "input_numbers"
	AddSubOutputAlias = "output_numbers"
)

// AddSub implements the add_sub reference custom-node library: given
// params add=X, sub=Y, every element of the single input tensor is
// mapped to element + X - Y.
type AddSub struct{}

var _ nodelib.Library = AddSub{}

func (AddSub) Name() string { return "add_sub" }

func (AddSub) GetInputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return []nodelib.TensorInfo{{Name: AddSubInputAlias}}, nil
}

func (AddSub) GetOutputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return []nodelib.TensorInfo{{Name: AddSubOutputAlias}}, nil
}

func (a AddSub) Execute(inputs []nodelib.NamedTensor, params []nodelib.Param) (*nodelib.ExecuteResult, error) {
	add, err := paramFloat(params, "add", 0)
	if err != nil {
		return nil, err
	}
	sub, err := paramFloat(params, "sub", 0)
	if err != nil {
		return nil, err
	}

	in, err := findInput(inputs, AddSubInputAlias)
	if err != nil {
		return nil, err
	}
	values, err := floatsFromTensor(in)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = v + float32(add) - float32(sub)
	}
	t, err := tensorFromFloats(in.Dims, out, nodelib.NewOutputOwner(a))
	if err != nil {
		return nil, err
	}
	return nodelib.NewExecuteResult([]nodelib.NamedTensor{{Name: AddSubOutputAlias, Tensor: t}}), nil
}

func findInput(inputs []nodelib.NamedTensor, name string) (*tensor.Tensor, error) {
	for _, in := range inputs {
		if in.Name == name {
			return in.Tensor, nil
		}
	}
	return nil, fmt.Errorf("required input %q not found among %d inputs", name, len(inputs))
}
