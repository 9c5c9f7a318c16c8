package ggmlprovider

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// Op names the ggml primitive a model runs. Real language-model decode
// graphs are out of scope here; each model is exactly one primitive.
type Op string

const (
	OpAdd     Op = "add"
	OpMul     Op = "mul"
	OpRMSNorm Op = "rms_norm"
)

// ModelSpec is one loadable model version: an operation plus the input
// aliases it consumes, in argument order.
type ModelSpec struct {
	Name    string
	Version int64
	Op      Op
	// InputAliases names the DLNode input aliases this model reads, in
	// the order its Op expects them (two for add/mul, one for rms_norm).
	InputAliases []string
	// OutputAlias names the single output alias this model produces.
	OutputAlias string
	// Epsilon is used only by OpRMSNorm; zero selects ggml's default.
	Epsilon float32
	// ArenaBytes sizes the scratch ggml context allocated per Infer
	// call; zero selects a small default sufficient for single
	// primitive operations on modest tensors.
	ArenaBytes int
}

const defaultArenaBytes = 16 * 1024 * 1024

// Provider is a dag.ModelProvider backed by ggml compute primitives. It
// holds a fixed, in-process registry of ModelSpecs; an on-disk model
// repository is out of scope here.
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

// ModelExists reports whether modelName/version is registered, without
// acquiring a ModelInstance (used by PipelineDefinition.Validate).
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

// Subscribe/Unsubscribe implement the revalidation-callback protocol
//; this reference provider's registry is fixed at
// construction, so callbacks are recorded but never invoked. A future
// hot-reloadable registry would fire them from its reload path exactly
// where it replaces p.models.
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
	log := klog.FromContext(ctx)

	operands := make([]*tensor.Tensor, len(in.spec.InputAliases))
	for i, alias := range in.spec.InputAliases {
		t, ok := inputs[alias]
		if !ok {
			return nil, status.New(status.InferenceFailed, "model %q missing input %q", in.spec.Name, alias)
		}
		if t.Precision != tensor.FP32 {
			return nil, status.New(status.InferenceFailed, "model %q requires FP32 input %q, got %v", in.spec.Name, alias, t.Precision)
		}
		operands[i] = t
	}

	arena := in.spec.ArenaBytes
	if arena == 0 {
		arena = defaultArenaBytes
	}
	gctx, err := newGgmlContext(arena)
	if err != nil {
		return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
	}
	defer gctx.free()

	graph, err := gctx.newGraph()
	if err != nil {
		return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
	}

	ggmlOperands := make([]*ggmlTensor, len(operands))
	for i, t := range operands {
		gt, err := gctx.newTensor1D(int(t.Elements()))
		if err != nil {
			return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
		}
		if err := gt.setValues(floatsFromTensor(t)); err != nil {
			return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
		}
		ggmlOperands[i] = gt
	}

	var result *ggmlTensor
	switch in.spec.Op {
	case OpAdd:
		if len(ggmlOperands) != 2 {
			return nil, status.New(status.InferenceFailed, "model %q: add requires 2 inputs, got %d", in.spec.Name, len(ggmlOperands))
		}
		result = gctx.add(ggmlOperands[0], ggmlOperands[1])
	case OpMul:
		if len(ggmlOperands) != 2 {
			return nil, status.New(status.InferenceFailed, "model %q: mul requires 2 inputs, got %d", in.spec.Name, len(ggmlOperands))
		}
		result = gctx.mul(ggmlOperands[0], ggmlOperands[1])
	case OpRMSNorm:
		if len(ggmlOperands) != 1 {
			return nil, status.New(status.InferenceFailed, "model %q: rms_norm requires 1 input, got %d", in.spec.Name, len(ggmlOperands))
		}
		eps := in.spec.Epsilon
		if eps == 0 {
			eps = 1e-5
		}
		result = gctx.rmsNorm(ggmlOperands[0], eps)
	default:
		return nil, status.New(status.InferenceFailed, "model %q: unsupported op %q", in.spec.Name, in.spec.Op)
	}

	graph.buildForwardExpand(result)
	if err := graph.compute(gctx, 1); err != nil {
		return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
	}

	values, err := result.values()
	if err != nil {
		return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
	}
	log.V(2).Info("ggml inference complete", "model", in.spec.Name, "op", in.spec.Op, "elements", len(values))

	out, err := tensorFromFloats(operands[0].Dims, values)
	if err != nil {
		return nil, status.New(status.InferenceFailed, "model %q: %v", in.spec.Name, err)
	}
	return map[string]*tensor.Tensor{in.spec.OutputAlias: out}, nil
}
