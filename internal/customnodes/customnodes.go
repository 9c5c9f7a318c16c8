// Package customnodes provides in-process implementations of the
// nodelib.Library ABI for the reference custom-node libraries used in
// end-to-end tests: add_sub, different_ops and choose_max. Because they
// satisfy the same Library interface a dlopen'd shared object does, the
// demultiplex/gather round trip and the plain custom-node scenarios can
// be exercised in tests without a compiled .so on disk.
package customnodes

import (
	"fmt"
	"math"
	"strconv"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

func paramFloat(params []nodelib.Param, key string, def float64) (float64, error) {
	for _, p := range params {
		if p.Key == key {
			v, err := strconv.ParseFloat(p.Value, 64)
			if err != nil {
				return 0, fmt.Errorf("parsing param %q=%q: %w", key, p.Value, err)
			}
			return v, nil
		}
	}
	return def, nil
}

func paramString(params []nodelib.Param, key, def string) string {
	for _, p := range params {
		if p.Key == key {
			return p.Value
		}
	}
	return def
}

func floatsFromTensor(t *tensor.Tensor) ([]float32, error) {
	if t.Precision != tensor.FP32 {
		return nil, status.New(status.NodeLibraryInvalidPrecision, "expected FP32, got %v", t.Precision)
	}
	n := t.Elements()
	out := make([]float32, n)
	for i := range out {
		bits := uint32(t.Data[i*4]) | uint32(t.Data[i*4+1])<<8 | uint32(t.Data[i*4+2])<<16 | uint32(t.Data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

func tensorFromFloats(dims []int64, values []float32, owner tensor.Owner) (*tensor.Tensor, error) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		bits := math.Float32bits(v)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return tensor.New(tensor.FP32, dims, data, owner)
}
