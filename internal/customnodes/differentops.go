package customnodes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
)

// DifferentOpsInputAlias and DifferentOpsOutputAlias are the aliases the
// different_ops library declares. It always produces exactly 4 rows
// (add, sub, mul, div, in that order), one per factor in its "factors"
// param, making it a static demultiply_count=4 producer.
const (
	DifferentOpsInputAlias  = "input_numbers"
	DifferentOpsOutputAlias = "different_ops_results"

	DifferentOpsDemultiplyCount = 4
)

// DifferentOps implements the different_ops reference custom-node
// library.
type DifferentOps struct{}

var _ nodelib.Library = DifferentOps{}

func (DifferentOps) Name() string { return "different_ops" }

func (DifferentOps) GetInputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return []nodelib.TensorInfo{{Name: DifferentOpsInputAlias}}, nil
}

func (DifferentOps) GetOutputsInfo(params []nodelib.Param) ([]nodelib.TensorInfo, error) {
	return []nodelib.TensorInfo{{Name: DifferentOpsOutputAlias}}, nil
}

func parseFactors(params []nodelib.Param) ([4]float64, error) {
	var factors [4]float64
	raw := paramString(params, "factors", "")
	parts := strings.Split(raw, ",")
	if len(parts) != DifferentOpsDemultiplyCount {
		return factors, fmt.Errorf("different_ops requires exactly %d comma-separated factors, got %q", DifferentOpsDemultiplyCount, raw)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return factors, fmt.Errorf("parsing factor %q: %w", p, err)
		}
		factors[i] = v
	}
	return factors, nil
}

func (d DifferentOps) Execute(inputs []nodelib.NamedTensor, params []nodelib.Param) (*nodelib.ExecuteResult, error) {
	factors, err := parseFactors(params)
	if err != nil {
		return nil, err
	}
	in, err := findInput(inputs, DifferentOpsInputAlias)
	if err != nil {
		return nil, err
	}
	values, err := floatsFromTensor(in)
	if err != nil {
		return nil, err
	}

	n := len(values)
	out := make([]float32, DifferentOpsDemultiplyCount*n)
	ops := [DifferentOpsDemultiplyCount]func(v, f float32) float32{
		func(v, f float32) float32 { return v + f },
		func(v, f float32) float32 { return v - f },
		func(v, f float32) float32 { return v * f },
		func(v, f float32) float32 { return v / f },
	}
	for row := 0; row < DifferentOpsDemultiplyCount; row++ {
		f := float32(factors[row])
		for col, v := range values {
			out[row*n+col] = ops[row](v, f)
		}
	}

	t, err := tensorFromFloats([]int64{DifferentOpsDemultiplyCount, int64(n)}, out, nodelib.NewOutputOwner(d))
	if err != nil {
		return nil, err
	}
	return nodelib.NewExecuteResult([]nodelib.NamedTensor{{Name: DifferentOpsOutputAlias, Tensor: t}}), nil
}
