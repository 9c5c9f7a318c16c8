package dag

import (
	"context"
	"math"

	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// ModelInstance is a handle to a loaded model version, acquired from a
// ModelProvider and used for exactly one inference call by a DLNode.
type ModelInstance interface {
	// Infer runs the model against the given named inputs and returns
	// its named outputs. A failure here is reported to the caller as
	// status.InferenceFailed.
	Infer(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error)
}

// ModelProvider is the external collaborator DLNode acquires instances
// from. The underlying inference engine is out of scope; a DLNode only
// ever sees it through this get-instance seam.
type ModelProvider interface {
	GetInstance(ctx context.Context, modelName string, version *int64) (ModelInstance, error)
	// Subscribe/Unsubscribe register a revalidation callback invoked
	// whenever the named model's availability changes.
	Subscribe(modelName string, onChange func())
	Unsubscribe(modelName string, onChange func())
}

// DummyModelProvider is a fixed, in-process ModelProvider used by tests
// and the reference deployment: it serves exactly one model, whose sole
// version computes x -> x+1 element-wise.
type DummyModelProvider struct {
	ModelName string
}

// NewDummyModelProvider returns a ModelProvider whose one model adds 1
// to every element of its single input tensor.
func NewDummyModelProvider(modelName string) *DummyModelProvider {
	return &DummyModelProvider{ModelName: modelName}
}

func (d *DummyModelProvider) GetInstance(ctx context.Context, modelName string, version *int64) (ModelInstance, error) {
	if modelName != d.ModelName {
		return nil, status.New(status.ModelMissing, "model %q not found", modelName)
	}
	if version != nil && *version != 0 {
		return nil, status.New(status.ModelVersionMissing, "model %q has no version %d", modelName, *version)
	}
	return incrementInstance{}, nil
}

func (d *DummyModelProvider) Subscribe(modelName string, onChange func())   {}
func (d *DummyModelProvider) Unsubscribe(modelName string, onChange func()) {}

// ModelExists lets a PipelineDefinition validate DL node references
// against this provider without acquiring an instance.
func (d *DummyModelProvider) ModelExists(modelName string, version *int64) bool {
	if modelName != d.ModelName {
		return false
	}
	return version == nil || *version == 0
}

type incrementInstance struct{}

func (incrementInstance) Infer(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(inputs))
	for name, in := range inputs {
		if in.Precision != tensor.FP32 {
			return nil, status.New(status.InferenceFailed, "dummy model only supports FP32, got %v", in.Precision)
		}
		data := make([]byte, len(in.Data))
		n := int(in.Elements())
		for i := 0; i < n; i++ {
			bits := uint32(in.Data[i*4]) | uint32(in.Data[i*4+1])<<8 | uint32(in.Data[i*4+2])<<16 | uint32(in.Data[i*4+3])<<24
			v := math.Float32frombits(bits) + 1
			bits = math.Float32bits(v)
			data[i*4] = byte(bits)
			data[i*4+1] = byte(bits >> 8)
			data[i*4+2] = byte(bits >> 16)
			data[i*4+3] = byte(bits >> 24)
		}
		t, err := tensor.New(in.Precision, in.Dims, data, tensor.CoreOwner)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}
