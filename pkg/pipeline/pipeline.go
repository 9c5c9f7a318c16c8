// Package pipeline implements the per-request execution engine: a
// ready-queue scheduler over a node graph built from a
// PipelineDefinition, including demultiplex/gather fan-out.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"

	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/definition"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// DefaultMaxParallel is the worker pool size used when Options doesn't
// specify one.
const DefaultMaxParallel = 16

// Options configures a single Pipeline run.
type Options struct {
	// MaxParallel bounds how many nodes (including shard sub-executions)
	// may run concurrently. Zero selects DefaultMaxParallel.
	MaxParallel int
	// MaxTotalShards caps the cumulative number of shard sub-executions
	// a request may spawn across all nested demultiplex layers; zero
	// means unbounded.
	MaxTotalShards int64
	// Deadline, if non-zero, is the wall-clock time by which the
	// pipeline must finish.
	Deadline time.Time
}

// Pipeline is a per-request execution engine bound to one
// PipelineDefinition's current blueprint.
type Pipeline struct {
	def     *definition.PipelineDefinition
	opts    Options
	regions *regions
}

// New builds a Pipeline for one request against def's current blueprint.
// It does not itself validate the definition; callers obtain
// definitions only in the LOADED state from a PipelineFactory.
func New(def *definition.PipelineDefinition, opts Options) (*Pipeline, error) {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	nodes := def.Nodes()
	connections := def.Connections()
	r, err := computeRegions(nodes, connections)
	if err != nil {
		return nil, err
	}
	return &Pipeline{def: def, opts: opts, regions: r}, nil
}

// run carries the state shared across one Pipeline.Run call and all of
// its (possibly deeply nested) shard sub-executions.
type run struct {
	ctx      context.Context
	provider dag.ModelProvider
	libs     definition.LibraryResolver
	sem      *semaphore.Weighted
	deadline time.Time

	totalShards    atomic.Int64
	maxTotalShards int64

	firstErr atomic.Pointer[status.Status]
}

func (r *run) recordError(st *status.Status) {
	if st == nil || st.Ok() {
		return
	}
	r.firstErr.CompareAndSwap(nil, st)
}

func (r *run) failed() bool {
	return r.firstErr.Load() != nil
}

func (r *run) pastDeadline() bool {
	return !r.deadline.IsZero() && time.Now().After(r.deadline)
}

// Run executes the pipeline once: binds entry, schedules every node
// through the ready queue (descending into demultiplex/gather regions
// as needed), and returns the populated exit binding. A non-OK Status
// means the exit binding is in an unspecified state.
func (p *Pipeline) Run(ctx context.Context, entry dag.EntryBinding) (dag.ExitBinding, *status.Status) {
	runID := uuid.NewString()
	log := klog.FromContext(ctx).WithValues("runID", runID, "name", p.def.Name)
	ctx = klog.NewContext(ctx, log)
	exit := dag.ExitBinding{}

	r := &run{
		ctx:            ctx,
		provider:       p.def.ModelProvider(),
		libs:           p.def.Libraries(),
		sem:            semaphore.NewWeighted(int64(p.opts.MaxParallel)),
		deadline:       p.opts.Deadline,
		maxTotalShards: p.opts.MaxTotalShards,
	}
	log.V(1).Info("starting pipeline run")

	nodes := p.def.Nodes()
	connections := p.def.Connections()
	nodeInfoByName := make(map[string]definition.NodeInfo, len(nodes))
	names := make([]string, len(nodes))
	for i, n := range nodes {
		nodeInfoByName[n.Name] = n
		names[i] = n.Name
	}

	bindings := nodeBindings{entry: map[string]dag.EntryBinding{}, exit: map[string]dag.ExitBinding{}}
	for _, n := range nodes {
		if n.Kind == dag.KindEntry {
			bindings.entry[n.Name] = entry
		}
		if n.Kind == dag.KindExit {
			bindings.exit[n.Name] = exit
		}
	}

	top := topLevelNodes(names, p.regions)
	err := executeRegion(r, top, connections, nodeInfoByName, p.regions, nil, bindings, nil)
	if err != nil {
		st := status.Of(err)
		log.Error(err, "pipeline execution failed")
		return exit, st
	}
	if st := r.firstErr.Load(); st != nil {
		return exit, st
	}
	return exit, status.Of(nil)
}

type nodeBindings struct {
	entry map[string]dag.EntryBinding
	exit  map[string]dag.ExitBinding
}

// executeRegion schedules one flat set of nodes (a top-level pipeline,
// or the interior of one demultiplex layer) to completion.
// externalInputs supplies values for inputs whose source node lies
// outside this region (e.g. a demux's shard value, or a tensor shared
// by reference from an enclosing region).
// capture, when non-nil, receives a copy of every node's final outputs
// once this region finishes — used by a demux's per-shard sub-calls so
// the enclosing gather can read each shard's result.
func executeRegion(
	r *run,
	names []string,
	connections definition.Connections,
	nodeInfoByName map[string]definition.NodeInfo,
	regionInfo *regions,
	externalInputs map[string]map[string]*tensor.Tensor,
	bindings nodeBindings,
	capture map[string]map[string]*tensor.Tensor,
) error {
	nodeSet := make(map[string]bool, len(names))
	for _, n := range names {
		nodeSet[n] = true
	}

	nodesByName := make(map[string]*dag.Node, len(names))
	for _, name := range names {
		info := nodeInfoByName[name]
		n, err := buildNode(r, info, bindings.entry[name], bindings.exit[name])
		if err != nil {
			return err
		}
		nodesByName[name] = n
	}

	for destName, values := range externalInputs {
		n, ok := nodesByName[destName]
		if !ok {
			continue
		}
		for alias, t := range values {
			if err := n.SetInput(alias, t); err != nil {
				return err
			}
		}
	}

	var mu sync.Mutex
	results := make(map[string]map[string]*tensor.Tensor, len(names))
	done := make(map[string]bool, len(names))

	for {
		if r.failed() || r.pastDeadline() {
			if r.pastDeadline() {
				r.recordError(status.New(status.DeadlineExceeded, "pipeline exceeded its deadline"))
			}
			break
		}

		var wave []string
		mu.Lock()
		for _, name := range names {
			if !done[name] && nodesByName[name].IsReady() {
				wave = append(wave, name)
				done[name] = true // claimed for this wave
			}
		}
		mu.Unlock()
		if len(wave) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(r.ctx)
		for _, name := range wave {
			name := name
			if err := r.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			g.Go(func() error {
				defer r.sem.Release(1)
				return executeOneNode(r, name, nodesByName, connections, nodeSet, nodeInfoByName, regionInfo, &mu, results)
			})
		}
		if err := g.Wait(); err != nil {
			r.recordError(status.Of(err))
		}
	}

	if capture != nil {
		mu.Lock()
		for name, outs := range results {
			capture[name] = outs
		}
		mu.Unlock()
	}

	return nil
}

func buildNode(r *run, info definition.NodeInfo, entry dag.EntryBinding, exit dag.ExitBinding) (*dag.Node, error) {
	switch info.Kind {
	case dag.KindEntry:
		outAliases := make([]string, 0, len(info.OutputAliasMap))
		for _, a := range info.OutputAliasMap {
			outAliases = append(outAliases, a)
		}
		return dag.NewEntryNode(info.Name, outAliases, entry), nil
	case dag.KindExit:
		return dag.NewExitNode(info.Name, info.InputAliases, exit), nil
	case dag.KindDL:
		return dag.NewDLNode(info.Name, info.InputAliases, info.OutputAliasMap, info.ModelName, info.ModelVersion, r.provider), nil
	case dag.KindCustom:
		lib, err := r.libs.Resolve(info.LibraryPath)
		if err != nil {
			return nil, err
		}
		return dag.NewCustomNode(info.Name, info.InputAliases, info.OutputAliasMap, lib, info.Params, info.DemultiplyCount, info.GatherFromNode), nil
	default:
		return nil, status.New(status.UnknownError, "node %q has unrecognized kind %v", info.Name, info.Kind)
	}
}
