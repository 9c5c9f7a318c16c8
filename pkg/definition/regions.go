package definition

import "fmt"

// Regions describes the demultiplex/gather structure of a node graph:
// for each demultiplexer, the name of its matched gather node and the
// set of node names strictly between them ("interior" nodes, scheduled
// only inside a per-shard sub-execution, never by the enclosing
// region's ready queue).
type Regions struct {
	GatherOf map[string]string          // demux name -> gather name
	Interior map[string]map[string]bool // demux name -> interior node names
}

// ComputeRegions walks nodes/connections and, for every demultiplexer
// with a matched gather, determines the interior node set between them.
func ComputeRegions(nodes []NodeInfo, connections Connections) (*Regions, error) {
	forward := make(map[string][]string) // node -> nodes it feeds
	for dest, edges := range connections {
		for _, e := range edges {
			forward[e.SourceNode] = append(forward[e.SourceNode], dest)
		}
	}
	backward := make(map[string][]string) // node -> nodes that feed it
	for dest, edges := range connections {
		for _, e := range edges {
			backward[dest] = append(backward[dest], e.SourceNode)
		}
	}

	r := &Regions{
		GatherOf: map[string]string{},
		Interior: map[string]map[string]bool{},
	}

	for _, n := range nodes {
		if n.GatherFromNode == "" {
			continue
		}
		demux := n.GatherFromNode
		if _, dup := r.GatherOf[demux]; dup {
			return nil, fmt.Errorf("demultiplexer %q has more than one matched gather node", demux)
		}
		r.GatherOf[demux] = n.Name

		reachableFromDemux := regionsBFS(demux, forward)
		canReachGather := regionsBFS(n.Name, backward)

		interior := map[string]bool{}
		for name := range reachableFromDemux {
			if name == demux || name == n.Name {
				continue
			}
			if canReachGather[name] {
				interior[name] = true
			}
		}
		r.Interior[demux] = interior
	}

	return r, nil
}

func regionsBFS(start string, adjacency map[string][]string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
