package pipeline

import (
	"github.com/modelmesh/pipelinecore/pkg/definition"
)

// regions is an alias for definition.Regions: the same demultiplex/
// gather interior-node computation that PipelineDefinition.Validate
// already runs at load time to reject malformed boundary crossings, so
// a Pipeline's scheduling structure always agrees with what validation
// checked.
type regions = definition.Regions

func computeRegions(nodes []definition.NodeInfo, connections definition.Connections) (*regions, error) {
	return definition.ComputeRegions(nodes, connections)
}

// topLevelNodes returns the node names of a region that the enclosing
// scheduler dispatches directly: every node except those interior to
// some nested demultiplexer within it.
func topLevelNodes(names []string, r *regions) []string {
	interiorUnion := map[string]bool{}
	for demux := range r.Interior {
		inThisScope := false
		for _, n := range names {
			if n == demux {
				inThisScope = true
				break
			}
		}
		if !inThisScope {
			continue
		}
		for n := range r.Interior[demux] {
			interiorUnion[n] = true
		}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !interiorUnion[n] {
			out = append(out, n)
		}
	}
	return out
}
