package pipeline

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/definition"
	"github.com/modelmesh/pipelinecore/pkg/status"
	"github.com/modelmesh/pipelinecore/pkg/tensor"
)

// executeOneNode runs a single node's execute step and, on success,
// either fans it out as a demultiplexer or routes its outputs to
// downstream nodes in the same region.
func executeOneNode(
	r *run,
	name string,
	nodesByName map[string]*dag.Node,
	connections definition.Connections,
	nodeSet map[string]bool,
	nodeInfoByName map[string]definition.NodeInfo,
	regionInfo *regions,
	mu *sync.Mutex,
	results map[string]map[string]*tensor.Tensor,
) error {
	if r.failed() {
		return nil
	}

	node := nodesByName[name]
	outputs, err := node.Execute(r.ctx)
	if err != nil {
		st := status.Of(err)
		r.recordError(st)
		return st
	}

	if gatherName, isDemux := regionInfo.GatherOf[name]; isDemux {
		return runDemultiplexer(r, name, gatherName, outputs, nodesByName, connections, nodeInfoByName, regionInfo, mu, results)
	}

	mu.Lock()
	results[name] = outputs
	mu.Unlock()
	return routeOutputs(name, outputs, nodesByName, connections, nodeSet, mu)
}

// routeOutputs feeds each output tensor to every downstream node in
// nodeSet whose connection names this node as a source.
func routeOutputs(
	name string,
	outputs map[string]*tensor.Tensor,
	nodesByName map[string]*dag.Node,
	connections definition.Connections,
	nodeSet map[string]bool,
	mu *sync.Mutex,
) error {
	for destName, edges := range connections {
		if !nodeSet[destName] {
			continue
		}
		destNode, ok := nodesByName[destName]
		if !ok {
			continue
		}
		for _, e := range edges {
			if e.SourceNode != name {
				continue
			}
			t, ok := outputs[e.SourceAlias]
			if !ok {
				continue
			}
			mu.Lock()
			err := destNode.SetInput(e.DestAlias, t)
			mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// runDemultiplexer shards the demultiplexer's output, replicates the
// interior sub-graph once per shard, then gathers the results.
func runDemultiplexer(
	r *run,
	demuxName, gatherName string,
	outputs map[string]*tensor.Tensor,
	nodesByName map[string]*dag.Node,
	connections definition.Connections,
	nodeInfoByName map[string]definition.NodeInfo,
	regionInfo *regions,
	mu *sync.Mutex,
	results map[string]map[string]*tensor.Tensor,
) error {
	interior := regionInfo.Interior[demuxName]
	interiorNames := make([]string, 0, len(interior))
	for n := range interior {
		interiorNames = append(interiorNames, n)
	}

	// Every output alias the demux produces that feeds an interior node
	// (or its gather node directly) is a shard source; they must all
	// agree on their leading dimension.
	shardSource := map[string]*tensor.Tensor{}
	interiorConsumer := false
	for destName, edges := range connections {
		if !interior[destName] && destName != gatherName {
			continue
		}
		if interior[destName] {
			interiorConsumer = true
		}
		for _, e := range edges {
			if e.SourceNode != demuxName {
				continue
			}
			t, ok := outputs[e.SourceAlias]
			if !ok {
				return status.New(status.NodeLibraryMissingOutput, "demultiplexer %q did not produce declared output %q", demuxName, e.SourceAlias)
			}
			shardSource[e.SourceAlias] = t
		}
	}
	if len(shardSource) == 0 {
		return fmt.Errorf("demultiplexer %q has no interior consumer", demuxName)
	}

	k := -1
	for alias, t := range shardSource {
		if len(t.Dims) < 1 {
			return status.New(status.NodeLibraryInvalidShape, "demultiplexer %q output %q has no dimensions", demuxName, alias)
		}
		thisK := int(t.Dims[0])
		if k == -1 {
			k = thisK
		} else if k != thisK {
			return fmt.Errorf("demultiplexer %q outputs disagree on shard count: %d vs %d", demuxName, k, thisK)
		}
	}

	if info, ok := nodeInfoByName[demuxName]; ok && info.DemultiplyCount != 0 && info.DemultiplyCount != dag.DynamicDemultiplyCount {
		if k != info.DemultiplyCount {
			return status.New(status.DemultiplexerShardCountMismatch, "demultiplexer %q declared demultiply_count %d but produced %d shards", demuxName, info.DemultiplyCount, k)
		}
	}
	if !interiorConsumer {
		return fmt.Errorf("demultiplexer %q has no interior consumer", demuxName)
	}

	r.totalShards.Add(int64(k))
	if r.maxTotalShards > 0 && r.totalShards.Load() > r.maxTotalShards {
		return status.New(status.DemultiplexerLimitExceeded, "demultiplexer %q would exceed max_total_shards", demuxName)
	}

	shardTensors := make(map[string][]*tensor.Tensor, len(shardSource))
	for alias, t := range shardSource {
		shards := make([]*tensor.Tensor, k)
		for i := 0; i < k; i++ {
			s, err := t.Slice(int64(i))
			if err != nil {
				return err
			}
			shards[i] = s
		}
		shardTensors[alias] = shards
	}

	// Inputs shared by reference across every shard: an edge into an
	// interior node whose source is neither the demux nor another
	// interior node.
	sharedInputs := map[string]map[string]*tensor.Tensor{}
	for destName, edges := range connections {
		if !interior[destName] {
			continue
		}
		for _, e := range edges {
			if e.SourceNode == demuxName || interior[e.SourceNode] {
				continue
			}
			mu.Lock()
			t, ok := results[e.SourceNode][e.SourceAlias]
			mu.Unlock()
			if !ok {
				return fmt.Errorf("interior node %q input %q depends on %q/%q which has not been computed", destName, e.DestAlias, e.SourceNode, e.SourceAlias)
			}
			if sharedInputs[destName] == nil {
				sharedInputs[destName] = map[string]*tensor.Tensor{}
			}
			sharedInputs[destName][e.DestAlias] = t
		}
	}

	interiorNodeInfoByName := make(map[string]definition.NodeInfo, len(interiorNames))
	for _, n := range interiorNames {
		interiorNodeInfoByName[n] = nodeInfoByName[n]
	}

	shardResults := make([]map[string]map[string]*tensor.Tensor, k)
	g, _ := errgroup.WithContext(r.ctx)
	for i := 0; i < k; i++ {
		i := i
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer r.sem.Release(1)
			externalInputs := map[string]map[string]*tensor.Tensor{}
			for destName, aliasMap := range sharedInputs {
				copied := make(map[string]*tensor.Tensor, len(aliasMap))
				for a, t := range aliasMap {
					copied[a] = t
				}
				externalInputs[destName] = copied
			}
			for destName, edges := range connections {
				if !interior[destName] {
					continue
				}
				for _, e := range edges {
					if e.SourceNode != demuxName {
						continue
					}
					if externalInputs[destName] == nil {
						externalInputs[destName] = map[string]*tensor.Tensor{}
					}
					externalInputs[destName][e.DestAlias] = shardTensors[e.SourceAlias][i]
				}
			}
			top := topLevelNodes(interiorNames, regionInfo)
			shardResultsMap := map[string]map[string]*tensor.Tensor{}
			if err := executeRegion(r, top, connections, interiorNodeInfoByName, regionInfo, externalInputs, nodeBindings{}, shardResultsMap); err != nil {
				return err
			}
			shardResults[i] = shardResultsMap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.recordError(status.Of(err))
		return err
	}

	mu.Lock()
	results[demuxName] = outputs
	mu.Unlock()

	return feedGather(gatherName, interior, connections, nodesByName, shardResults, mu)
}

func feedGather(
	gatherName string,
	interior map[string]bool,
	connections definition.Connections,
	nodesByName map[string]*dag.Node,
	shardResults []map[string]map[string]*tensor.Tensor,
	mu *sync.Mutex,
) error {
	gatherNode, ok := nodesByName[gatherName]
	if !ok {
		return fmt.Errorf("gather node %q is not present in the enclosing region", gatherName)
	}
	k := len(shardResults)
	for _, e := range connections[gatherName] {
		if !interior[e.SourceNode] {
			continue
		}
		shards := make([]*tensor.Tensor, k)
		for i := 0; i < k; i++ {
			t, ok := shardResults[i][e.SourceNode][e.SourceAlias]
			if !ok {
				return fmt.Errorf("shard %d did not produce %q/%q feeding gather %q", i, e.SourceNode, e.SourceAlias, gatherName)
			}
			shards[i] = t
		}
		concatenated, err := tensor.Concat(shards)
		if err != nil {
			return fmt.Errorf("gathering %q: %w", gatherName, err)
		}
		mu.Lock()
		err = gatherNode.SetInput(e.DestAlias, concatenated)
		mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
