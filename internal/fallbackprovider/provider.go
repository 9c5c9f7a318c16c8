// Package fallbackprovider is a pure-Go dag.ModelProvider usable without
// cgo or native ggml/llama.cpp libraries, for the reference deployment
// and tests that should not require building internal/ggmlprovider. Its
// rms_norm operation computes the same formula as internal/ggmlprovider's
// native rms_norm, so results agree up to float rounding; linear_scale
// has no ggmlprovider counterpart.
package fallbackprovider

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// Op names the software operation a model runs.
type Op string

const (
	// OpLinearScale multiplies every element by Scale.
	OpLinearScale Op = "linear_scale"
	// OpRMSNorm divides every element by the root-mean-square of the
	// whole tensor, plus Epsilon for numerical stability.
	OpRMSNorm Op = "rms_norm"
)

// ModelSpec is one loadable model version.
type ModelSpec struct {
	Name        string
	Version     int64
	Op          Op
	InputAlias  string
	OutputAlias string
	// Scale is used only by OpLinearScale.
	Scale float32
	// Epsilon is used only by OpRMSNorm; zero selects the default 1e-5.
	Epsilon float32
}

// Provider is a dag.ModelProvider backed by plain float32 arithmetic.
type Provider struct {
	mu          sync.RWMutex
	models      map[string]map[int64]ModelSpec
	subscribers map[string][]func()
}

// New returns a Provider serving the given model specs.
func New(specs []ModelSpec) *Provider {
	p := &Provider{
		models:      map[string]map[int64]ModelSpec{},
		subscribers: map[string][]func(){},
	}
	for _, s := range specs {
		if p.models[s.Name] == nil {
			p.models[s.Name] = map[int64]ModelSpec{}
		}
		p.models[s.Name][s.Version] = s
	}
	return p
}

func (p *Provider) lookup(modelName string, version *int64) (ModelSpec, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	versions, ok := p.models[modelName]
	if !ok {
		return ModelSpec{}, false
	}
	v := int64(0)
	if version != nil {
		v = *version
	}
	spec, ok := versions[v]
	return spec, ok
}

// ModelExists reports whether modelName/version is registered.
func (p *Provider) ModelExists(modelName string, version *int64) bool {
	_, ok := p.lookup(modelName, version)
	return ok
}

func (p *Provider) GetInstance(ctx context.Context, modelName string, version *int64) (dag.ModelInstance, error) {
	spec, ok := p.lookup(modelName, version)
	if !ok {
		if !p.ModelExists(modelName, nil) {
			return nil, status.New(status.ModelMissing, "model %q not found", modelName)
		}
		v := int64(0)
		if version != nil {
			v = *version
		}
		return nil, status.New(status.ModelVersionMissing, "model %q has no version %d", modelName, v)
	}
	return &instance{spec: spec}, nil
}

func (p *Provider) Subscribe(modelName string, onChange func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[modelName] = append(p.subscribers[modelName], onChange)
}

func (p *Provider) Unsubscribe(modelName string, onChange func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	callbacks := p.subscribers[modelName]
	for i, cb := range callbacks {
		if fmt.Sprintf("%p", cb) == fmt.Sprintf("%p", onChange) {
			p.subscribers[modelName] = append(callbacks[:i], callbacks[i+1:]...)
			return
		}
	}
}

type instance struct {
	spec ModelSpec
}

func (in *instance) Infer(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	t, ok := inputs[in.spec.InputAlias]
	if !ok {
		return nil, status.New(status.InferenceFailed, "model %q missing input %q", in.spec.Name, in.spec.InputAlias)
	}
	if t.Precision != tensor.FP32 {
		return nil, status.New(status.InferenceFailed, "model %q requires FP32 input %q, got %v", in.spec.Name, in.spec.InputAlias, t.Precision)
	}
	values := floatsFromTensor(t)

	switch in.spec.Op {
	case OpLinearScale:
		for i := range values {
			values[i] *= in.spec.Scale
		}
	case OpRMSNorm:
		epsilon := in.spec.Epsilon
		if epsilon == 0 {
			epsilon = 1e-5
		}
		var sumSq float32
		for _, v := range values {
			sumSq += v * v
		}
		mean := sumSq / float32(len(values))
		rms := float32(1.0 / math.Sqrt(float64(mean)+float64(epsilon)))
		for i := range values {
			values[i] *= rms
		}
	default:
		return nil, status.New(status.InferenceFailed, "model %q: unsupported op %q", in.spec.Name, in.spec.Op)
	}

	out, err := tensorFromFloats(t.Dims, values)
	if err != nil {
		return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
	}
	return map[string]*tensor.Tensor{in.spec.OutputAlias: out}, nil
}
