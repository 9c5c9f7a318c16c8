package main

import (
	"context"

	"github.com/modelmesh/pipelinecore/internal/fallbackprovider"
	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/status"
)

// unionProvider dispatches to whichever backend actually serves a model
// name, letting the demonstration server offer both the built-in dummy
// increment model and the fallbackprovider's
// software primitives side by side without requiring cgo.
type unionProvider struct {
	backends []dag.ModelProvider
}

func newDemoModelProvider() *unionProvider {
	dummy := dag.NewDummyModelProvider("increment")
	fallback := fallbackprovider.New([]fallbackprovider.ModelSpec{
		{Name: "scale2", Op: fallbackprovider.OpLinearScale, InputAlias: "x", OutputAlias: "y", Scale: 2},
		{Name: "rmsnorm", Op: fallbackprovider.OpRMSNorm, InputAlias: "x", OutputAlias: "y"},
	})
	return &unionProvider{backends: []dag.ModelProvider{dummy, fallback}}
}

func (u *unionProvider) exists(modelName string, version *int64) (dag.ModelProvider, bool) {
	for _, b := range u.backends {
		if resolver, ok := b.(interface {
			ModelExists(modelName string, version *int64) bool
		}); ok && resolver.ModelExists(modelName, version) {
			return b, true
		}
	}
	return nil, false
}

func (u *unionProvider) ModelExists(modelName string, version *int64) bool {
	_, ok := u.exists(modelName, version)
	return ok
}

func (u *unionProvider) GetInstance(ctx context.Context, modelName string, version *int64) (dag.ModelInstance, error) {
	b, ok := u.exists(modelName, version)
	if !ok {
		return nil, status.New(status.ModelMissing, "model %q not found", modelName)
	}
	return b.GetInstance(ctx, modelName, version)
}

func (u *unionProvider) Subscribe(modelName string, onChange func()) {
	for _, b := range u.backends {
		b.Subscribe(modelName, onChange)
	}
}

func (u *unionProvider) Unsubscribe(modelName string, onChange func()) {
	for _, b := range u.backends {
		b.Unsubscribe(modelName, onChange)
	}
}
