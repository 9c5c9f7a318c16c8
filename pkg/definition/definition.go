// Package definition implements the immutable, validated blueprint a
// Pipeline is constructed from, and its load/validate/reload/retire
// lifecycle.
package definition

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/modelmesh/pipelinecore/internal/nodelib"
	"github.com/modelmesh/pipelinecore/pkg/dag"
	"github.com/modelmesh/pipelinecore/pkg/status"
)

// State is a PipelineDefinition's lifecycle state.
type State int

const (
	Begin State = iota
	LoadingPreconditionFailed
	Loaded
	LoadedRequiresRevalidation
	Retired
	AvailableRequiringRevalidation
)

func (s State) String() string {
	switch s {
	case Begin:
		return "BEGIN"
	case LoadingPreconditionFailed:
		return "LOADING_PRECONDITION_FAILED"
	case Loaded:
		return "LOADED"
	case LoadedRequiresRevalidation:
		return "LOADED_REQUIRES_REVALIDATION"
	case Retired:
		return "RETIRED"
	case AvailableRequiringRevalidation:
		return "AVAILABLE_REQUIRING_REVALIDATION"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// NodeInfo is one node descriptor as supplied by the configuration
// loader").
type NodeInfo struct {
	Name string
	Kind dag.Kind

	InputAliases   []string
	OutputAliasMap map[string]string

	// DL fields.
	ModelName    string
	ModelVersion *int64

	// Custom fields.
	LibraryPath string
	Params      []nodelib.Param

	DemultiplyCount int
	GatherFromNode  string
}

// Connections maps a destination node name to the list of edges feeding
// its inputs.
type Connections map[string][]dag.Edge

// PipelineDefinition is the validated, named blueprint owned exclusively
// by a PipelineFactory registry.
type PipelineDefinition struct {
	Name string

	mu    sync.RWMutex
	state State

	nodes       []NodeInfo
	connections Connections

	entryAliases []string
	exitAliases  []string

	provider ModelResolver
	libs     LibraryResolver

	onModelChange func()
}

// ModelResolver resolves a DL node's model reference at validation time
// and supplies the ModelProvider a constructed DLNode will call.
type ModelResolver interface {
	dag.ModelProvider
	ModelExists(modelName string, version *int64) bool
}

// LibraryResolver resolves a custom node's library path to a loaded
// nodelib.Library at validation time.
type LibraryResolver interface {
	Resolve(path string) (nodelib.Library, error)
}

// New constructs a PipelineDefinition in the BEGIN state. Call Validate
// before it can be used by a PipelineFactory.
func New(name string, nodes []NodeInfo, connections Connections, entryAliases, exitAliases []string, provider ModelResolver, libs LibraryResolver) *PipelineDefinition {
	return &PipelineDefinition{
		Name:         name,
		state:        Begin,
		nodes:        nodes,
		connections:  connections,
		entryAliases: entryAliases,
		exitAliases:  exitAliases,
		provider:     provider,
		libs:         libs,
	}
}

// State returns the definition's current lifecycle state.
func (d *PipelineDefinition) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Validate runs the well-formedness checks in order, transitioning the
// definition to LOADED on success or LOADING_PRECONDITION_FAILED on the
// first failure.
func (d *PipelineDefinition) Validate(ctx context.Context) error {
	log := klog.FromContext(ctx)

	if err := d.validateLocked(); err != nil {
		d.mu.Lock()
		d.state = LoadingPreconditionFailed
		d.mu.Unlock()
		log.Error(err, "pipeline definition failed validation", "name", d.Name)
		return err
	}

	d.mu.Lock()
	d.state = Loaded
	d.mu.Unlock()
	log.V(1).Info("pipeline definition loaded", "name", d.Name)

	if d.provider != nil {
		for _, n := range d.nodes {
			if n.Kind == dag.KindDL {
				d.provider.Subscribe(n.ModelName, d.onModelAvailabilityChanged)
			}
		}
	}
	return nil
}

func (d *PipelineDefinition) validateLocked() error {
	if err := d.validateNodeNamesUnique(); err != nil {
		return err
	}
	if err := d.validateSingleEntryExit(); err != nil {
		return err
	}
	if err := d.validateConnections(); err != nil {
		return err
	}
	if err := d.validateModelReferences(); err != nil {
		return err
	}
	if err := d.validateLibraryReferences(); err != nil {
		return err
	}
	if err := d.validateAcyclic(); err != nil {
		return err
	}
	return d.validateDemultiplexGather()
}

func (d *PipelineDefinition) validateNodeNamesUnique() error {
	seen := make(map[string]bool, len(d.nodes))
	for _, n := range d.nodes {
		if seen[n.Name] {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = true
	}
	return nil
}

func (d *PipelineDefinition) validateSingleEntryExit() error {
	entryCount, exitCount := 0, 0
	for _, n := range d.nodes {
		switch n.Kind {
		case dag.KindEntry:
			entryCount++
		case dag.KindExit:
			exitCount++
		}
	}
	if entryCount != 1 {
		return fmt.Errorf("pipeline %q must have exactly one ENTRY node, has %d", d.Name, entryCount)
	}
	if exitCount != 1 {
		return fmt.Errorf("pipeline %q must have exactly one EXIT node, has %d", d.Name, exitCount)
	}
	return nil
}

func (d *PipelineDefinition) validateConnections() error {
	outputsOf := make(map[string]map[string]bool, len(d.nodes))
	for _, n := range d.nodes {
		aliases := make(map[string]bool, len(n.OutputAliasMap))
		for _, external := range n.OutputAliasMap {
			aliases[external] = true
		}
		outputsOf[n.Name] = aliases
	}

	boundInputs := make(map[string]map[string]bool, len(d.nodes))
	for _, n := range d.nodes {
		boundInputs[n.Name] = map[string]bool{}
	}

	for dest, edges := range d.connections {
		if _, ok := outputsOf[dest]; !ok {
			return fmt.Errorf("connection references unknown destination node %q", dest)
		}
		for _, e := range edges {
			srcOutputs, ok := outputsOf[e.SourceNode]
			if !ok {
				return fmt.Errorf("connection references unknown source node %q", e.SourceNode)
			}
			if !srcOutputs[e.SourceAlias] {
				return fmt.Errorf("node %q has no output alias %q", e.SourceNode, e.SourceAlias)
			}
			if boundInputs[dest][e.DestAlias] {
				return fmt.Errorf("node %q input alias %q is bound more than once", dest, e.DestAlias)
			}
			boundInputs[dest][e.DestAlias] = true
		}
	}

	for _, n := range d.nodes {
		if n.Kind == dag.KindEntry {
			continue
		}
		for _, alias := range n.InputAliases {
			if !boundInputs[n.Name][alias] {
				return fmt.Errorf("node %q input alias %q is never bound by a connection", n.Name, alias)
			}
		}
	}
	return nil
}

func (d *PipelineDefinition) validateModelReferences() error {
	if d.provider == nil {
		return nil
	}
	for _, n := range d.nodes {
		if n.Kind != dag.KindDL {
			continue
		}
		if !d.provider.ModelExists(n.ModelName, n.ModelVersion) {
			if n.ModelVersion != nil {
				return status.New(status.ModelVersionMissing, "node %q references model %q version %d", n.Name, n.ModelName, *n.ModelVersion)
			}
			return status.New(status.ModelMissing, "node %q references unknown model %q", n.Name, n.ModelName)
		}
	}
	return nil
}

func (d *PipelineDefinition) validateLibraryReferences() error {
	if d.libs == nil {
		return nil
	}
	for _, n := range d.nodes {
		if n.Kind != dag.KindCustom {
			continue
		}
		if _, err := d.libs.Resolve(n.LibraryPath); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}
	return nil
}

func (d *PipelineDefinition) validateAcyclic() error {
	names := make([]string, len(d.nodes))
	for i, n := range d.nodes {
		names[i] = n.Name
	}
	var edges []dag.Edge
	for _, es := range d.connections {
		edges = append(edges, es...)
	}
	_, err := dag.TopologicalOrder(names, edges)
	return err
}

// validateDemultiplexGather enforces that every demultiplexer has
// exactly one matched gather, that its interior sub-graph's outputs
// leave the region only through the gather node, and vice versa for
// gather nodes referencing a demultiplexer. validateAcyclic already
// runs before this check and covers the whole node graph, which
// implies every interior sub-graph is acyclic too.
func (d *PipelineDefinition) validateDemultiplexGather() error {
	demuxNames := make(map[string]bool)
	gatherTargets := make(map[string]int)
	for _, n := range d.nodes {
		if n.DemultiplyCount != 0 {
			demuxNames[n.Name] = true
		}
		if n.GatherFromNode != "" {
			gatherTargets[n.GatherFromNode]++
		}
	}
	for demux := range demuxNames {
		if gatherTargets[demux] != 1 {
			return fmt.Errorf("demultiplexer %q must have exactly one matching gather node, has %d", demux, gatherTargets[demux])
		}
	}
	for gathered := range gatherTargets {
		if !demuxNames[gathered] {
			return fmt.Errorf("gather node references %q which is not a demultiplexer", gathered)
		}
	}

	regions, err := ComputeRegions(d.nodes, d.connections)
	if err != nil {
		return err
	}
	for demux, gather := range regions.GatherOf {
		interior := regions.Interior[demux]
		for destName, edges := range d.connections {
			for _, e := range edges {
				if !interior[e.SourceNode] {
					continue
				}
				if interior[destName] || destName == gather {
					continue
				}
				return fmt.Errorf("demultiplexer %q: interior node %q output feeds %q, which is outside the region and is not its gather node %q", demux, e.SourceNode, destName, gather)
			}
		}
	}
	return nil
}

func (d *PipelineDefinition) onModelAvailabilityChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Loaded:
		d.state = LoadedRequiresRevalidation
	case LoadingPreconditionFailed:
		d.state = AvailableRequiringRevalidation
	}
}

// Reload builds a candidate blueprint from nodes/connections, validates
// it in isolation, and only installs it in place of the definition's
// current blueprint if validation succeeds. A failed reload leaves the
// previously loaded blueprint untouched and still serving: Callers
// already holding a reference from before Reload continue observing
// the pre-reload blueprint's tensors for any Pipeline they already
// created, and any Pipeline constructed after a failed Reload still
// sees the old blueprint rather than a half-applied one.
func (d *PipelineDefinition) Reload(ctx context.Context, nodes []NodeInfo, connections Connections) error {
	log := klog.FromContext(ctx)

	candidate := &PipelineDefinition{
		Name:        d.Name,
		nodes:       nodes,
		connections: connections,
		provider:    d.provider,
		libs:        d.libs,
	}
	if err := candidate.validateLocked(); err != nil {
		d.mu.Lock()
		wasLoaded := d.state == Loaded || d.state == LoadedRequiresRevalidation
		if !wasLoaded {
			d.state = LoadingPreconditionFailed
		}
		d.mu.Unlock()
		log.Error(err, "pipeline definition reload failed validation, keeping previous blueprint", "name", d.Name)
		return err
	}

	d.mu.Lock()
	d.nodes = nodes
	d.connections = connections
	d.state = Loaded
	d.mu.Unlock()
	log.V(1).Info("pipeline definition reloaded", "name", d.Name)

	if d.provider != nil {
		for _, n := range nodes {
			if n.Kind == dag.KindDL {
				d.provider.Subscribe(n.ModelName, d.onModelAvailabilityChanged)
			}
		}
	}
	return nil
}

// Retire unsubscribes from model-change notifications and moves the
// definition to RETIRED, which is terminal.
func (d *PipelineDefinition) Retire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Retired {
		return
	}
	if d.provider != nil {
		for _, n := range d.nodes {
			if n.Kind == dag.KindDL {
				d.provider.Unsubscribe(n.ModelName, d.onModelAvailabilityChanged)
			}
		}
	}
	d.state = Retired
}

// RequiresRevalidation reports whether the definition's state is one of
// the two "_REQUIRES_REVALIDATION" variants the factory's periodic sweep
// acts on.
func (d *PipelineDefinition) RequiresRevalidation() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state == LoadedRequiresRevalidation || d.state == AvailableRequiringRevalidation
}

// Nodes and Connections return read-only snapshots of the current
// blueprint for Pipeline construction (pkg/pipeline).
func (d *PipelineDefinition) Nodes() []NodeInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]NodeInfo, len(d.nodes))
	copy(out, d.nodes)
	return out
}

func (d *PipelineDefinition) Connections() Connections {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(Connections, len(d.connections))
	for k, v := range d.connections {
		out[k] = append([]dag.Edge(nil), v...)
	}
	return out
}

func (d *PipelineDefinition) EntryAliases() []string { return d.entryAliases }
func (d *PipelineDefinition) ExitAliases() []string  { return d.exitAliases }

func (d *PipelineDefinition) ModelProvider() dag.ModelProvider { return d.provider }
func (d *PipelineDefinition) Libraries() LibraryResolver       { return d.libs }
