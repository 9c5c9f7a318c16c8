// Package factory implements the concurrent registry of pipeline
// definitions and the entry point request handling uses to obtain a
// Pipeline for a named definition.
package factory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/modelmesh/pipelinecore/pkg/definition"
	"github.com/modelmesh/pipelinecore/pkg/pipeline"
	"github.com/modelmesh/pipelinecore/pkg/status"
)

// revalidateBurst lets a cold-started factory run its first
// revalidation sweep immediately even if several model/library-change
// signals arrived together during startup.
const revalidateBurst = 1

// Factory is the process-wide registry mapping definition name to owned
// PipelineDefinition, protected by a readers-writer lock.
type Factory struct {
	mu          sync.RWMutex
	definitions map[string]*definition.PipelineDefinition

	revalidateLimiter *rate.Limiter
}

// New returns an empty Factory. Call during server start. Revalidation
// sweeps triggered via RevalidatePipelines are rate-limited to at most
// one per interval so a burst of change notifications collapses into a
// single pass; a zero interval disables limiting.
func New(interval ...time.Duration) *Factory {
	limit := rate.Inf
	if len(interval) > 0 && interval[0] > 0 {
		limit = rate.Every(interval[0])
	}
	return &Factory{
		definitions:       map[string]*definition.PipelineDefinition{},
		revalidateLimiter: rate.NewLimiter(limit, revalidateBurst),
	}
}

// CreateDefinition registers a new, not-yet-validated definition under
// name. Callers must call Validate on the returned definition (or via
// the caller's own load path) before Create will serve it.
func (f *Factory) CreateDefinition(name string, nodes []definition.NodeInfo, connections definition.Connections, entryAliases, exitAliases []string, provider definition.ModelResolver, libs definition.LibraryResolver) (*definition.PipelineDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.definitions[name]; exists {
		return nil, status.New(status.PipelineDefinitionAlreadyExist, "pipeline definition %q already exists", name)
	}
	def := definition.New(name, nodes, connections, entryAliases, exitAliases, provider, libs)
	f.definitions[name] = def
	return def, nil
}

// Create resolves name to its LOADED definition and constructs a
// Pipeline for one request.
func (f *Factory) Create(name string, opts pipeline.Options) (*pipeline.Pipeline, error) {
	f.mu.RLock()
	def, ok := f.definitions[name]
	f.mu.RUnlock()
	if !ok {
		return nil, status.New(status.PipelineDefinitionNameMissing, "no pipeline definition named %q", name)
	}

	switch def.State() {
	case definition.Loaded, definition.LoadedRequiresRevalidation:
		return pipeline.New(def, opts)
	case definition.Retired:
		return nil, status.New(status.PipelineDefinitionNameMissing, "pipeline definition %q is retired", name)
	case definition.Begin, definition.LoadingPreconditionFailed:
		return nil, status.New(status.PipelineDefinitionNotLoadedYet, "pipeline definition %q is not loaded yet", name)
	default:
		return nil, status.New(status.PipelineDefinitionNotLoadedAnymore, "pipeline definition %q is not loaded anymore", name)
	}
}

// RetireOtherThan retires every definition whose name is absent from
// keep and is not already retired.
func (f *Factory) RetireOtherThan(ctx context.Context, keep map[string]bool) {
	log := klog.FromContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, def := range f.definitions {
		if keep[name] {
			continue
		}
		if def.State() == definition.Retired {
			continue
		}
		def.Retire()
		log.Info("retired pipeline definition", "name", name)
	}
}

// RevalidatePipelines re-runs Validate on every definition whose state
// requires it. Calls faster than the configured revalidation interval
// are dropped rather than queued, so a storm of change notifications
// results in one sweep rather than one per notification.
func (f *Factory) RevalidatePipelines(ctx context.Context) {
	if !f.revalidateLimiter.Allow() {
		return
	}

	log := klog.FromContext(ctx)
	f.mu.RLock()
	toRevalidate := make([]*definition.PipelineDefinition, 0, len(f.definitions))
	for _, def := range f.definitions {
		if def.RequiresRevalidation() {
			toRevalidate = append(toRevalidate, def)
		}
	}
	f.mu.RUnlock()

	for _, def := range toRevalidate {
		if err := def.Validate(ctx); err != nil {
			log.Error(err, "revalidation failed", "name", def.Name)
		}
	}
}

// Get returns the current definition registered under name, if any, for
// callers that need to reload it in place.
func (f *Factory) Get(name string) (*definition.PipelineDefinition, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	def, ok := f.definitions[name]
	return def, ok
}

// All returns a snapshot of every registered definition, for callers
// that need to sweep the whole registry (e.g. a node-library directory
// watcher re-validating everything on any file change).
func (f *Factory) All() []*definition.PipelineDefinition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*definition.PipelineDefinition, 0, len(f.definitions))
	for _, def := range f.definitions {
		out = append(out, def)
	}
	return out
}
