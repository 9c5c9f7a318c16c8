package dag

import "fmt"

// TopologicalOrder computes an evaluation order for a node graph
// described purely by name and its inbound edges, failing if the graph
// contains a cycle.
// It uses the same fixed-point readiness loop the reference
// implementation's tensor scheduler uses: repeatedly mark any node whose
// dependencies are all already ordered, until a pass makes no progress.
func TopologicalOrder(nodeNames []string, edges []Edge) ([]string, error) {
	dependencies := make(map[string][]string, len(nodeNames))
	for _, name := range nodeNames {
		dependencies[name] = nil
	}
	for _, e := range edges {
		dependencies[e.DestNode] = append(dependencies[e.DestNode], e.SourceNode)
	}

	order := make([]string, 0, len(nodeNames))
	done := make(map[string]bool, len(nodeNames))

	for {
		progress := false
		for _, name := range nodeNames {
			if done[name] {
				continue
			}
			ready := true
			for _, dep := range dependencies[name] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[name] = true
				order = append(order, name)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	if len(order) != len(nodeNames) {
		unresolved := make([]string, 0, len(nodeNames)-len(order))
		for _, name := range nodeNames {
			if !done[name] {
				unresolved = append(unresolved, name)
			}
		}
		return nil, fmt.Errorf("node graph has a cycle involving %v", unresolved)
	}

	return order, nil
}
